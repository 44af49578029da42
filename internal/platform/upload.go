package platform

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// SessionState tracks a chunked upload through its lifecycle.
type SessionState int

const (
	StateInitialized SessionState = iota
	StateUploading
	StateFinalizing
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateUploading:
		return "uploading"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// UploadSession is the transient state of one chunked upload attempt. It is
// created at init, lives for a single publish attempt and is never persisted.
type UploadSession struct {
	UploadID    string
	TotalSize   int64
	ChunkSize   int64
	TotalChunks int
	ChunksSent  int
	State       SessionState
	FailedChunk int  // 1-based index of the chunk that failed, 0 if none
	Failure     Kind // set when State == StateFailed
}

func (s *UploadSession) fail(kind Kind) {
	s.State = StateFailed
	s.Failure = kind
}

// ChunkProtocol is the platform-specific half of a chunked upload: TikTok's
// init/upload/publish and X's initialize/append/finalize both fit this shape.
// Chunk numbers are 1-based and strictly increasing.
type ChunkProtocol interface {
	Init(ctx context.Context, fileName string, fileSize, chunkSize int64, totalChunks int) (uploadID string, err error)
	UploadChunk(ctx context.Context, uploadID string, chunkNum, totalChunks int, data []byte) error
	Finalize(ctx context.Context, uploadID string) (externalID string, err error)
}

// RunChunkedUpload drives a ChunkProtocol through init, a strictly sequential
// chunk loop and finalize, returning the platform-assigned external id.
//
// Any single chunk failure aborts the whole pipeline; there is no partial
// resume and the caller must restart from init. The returned session reports
// where the attempt ended either way.
func RunChunkedUpload(ctx context.Context, proto ChunkProtocol, path string, chunkSize int64) (string, *UploadSession, error) {
	size, err := checkMediaFile(path)
	if err != nil {
		return "", &UploadSession{State: StateFailed, Failure: KindOf(err)}, err
	}
	if chunkSize <= 0 {
		chunkSize = tiktokChunkSize
	}

	totalChunks := int((size + chunkSize - 1) / chunkSize)
	sess := &UploadSession{
		TotalSize:   size,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		State:       StateInitialized,
	}

	uploadID, err := proto.Init(ctx, filepath.Base(path), size, chunkSize, totalChunks)
	if err != nil {
		sess.fail(KindUploadInitFailed)
		if k := KindOf(err); k == KindCancelled || k == KindInvalidToken {
			sess.Failure = k
			return "", sess, err
		}
		return "", sess, Wrap(KindUploadInitFailed, err, "upload init failed")
	}
	sess.UploadID = uploadID

	f, err := os.Open(path)
	if err != nil {
		sess.fail(KindFileNotFound)
		return "", sess, Wrap(KindFileNotFound, err, "open %s", path)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for chunk := 1; chunk <= totalChunks; chunk++ {
		if err := ctx.Err(); err != nil {
			sess.fail(KindCancelled)
			sess.FailedChunk = chunk
			return "", sess, Wrap(KindCancelled, err, "upload abandoned before chunk %d", chunk)
		}

		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			sess.fail(KindChunkUploadFailed)
			sess.FailedChunk = chunk
			return "", sess, Wrap(KindChunkUploadFailed, err, "read chunk %d", chunk)
		}

		sess.State = StateUploading
		if err := proto.UploadChunk(ctx, uploadID, chunk, totalChunks, buf[:n]); err != nil {
			sess.FailedChunk = chunk
			if k := KindOf(err); k == KindCancelled {
				sess.fail(KindCancelled)
				return "", sess, err
			}
			sess.fail(KindChunkUploadFailed)
			return "", sess, Wrap(KindChunkUploadFailed, err, "upload chunk %d/%d", chunk, totalChunks)
		}
		sess.ChunksSent = chunk
	}

	sess.State = StateFinalizing
	externalID, err := proto.Finalize(ctx, uploadID)
	if err != nil {
		if k := KindOf(err); k == KindCancelled {
			sess.fail(KindCancelled)
			return "", sess, err
		}
		sess.fail(KindPublishFailed)
		return "", sess, Wrap(KindPublishFailed, err, "finalize upload %s", uploadID)
	}

	sess.State = StateCompleted
	return externalID, sess, nil
}
