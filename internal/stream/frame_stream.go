package stream

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"lumen-core/internal/core/dispose"
	"lumen-core/internal/errors"
	"lumen-core/internal/packet"
)

// FrameStream 帧流处理器
// 在任意 io.ReadWriteCloser 之上按长度前缀恢复帧边界，
// 读写各持独立锁，同一连接上的帧按接收顺序交付
type FrameStream struct {
	dispose.Dispose
	conn      io.ReadWriteCloser
	codec     *packet.Codec
	readLock  sync.Mutex // 独立的读锁
	writeLock sync.Mutex // 独立的写锁
}

// NewFrameStream 创建帧流处理器
func NewFrameStream(conn io.ReadWriteCloser, codec *packet.Codec, parentCtx context.Context) *FrameStream {
	if codec == nil {
		codec = packet.NewCodec(0)
	}
	fs := &FrameStream{
		conn:  conn,
		codec: codec,
	}
	fs.SetCtx(parentCtx, fs.onClose)
	return fs
}

func (fs *FrameStream) onClose() error {
	if fs.conn != nil {
		return fs.conn.Close()
	}
	return nil
}

// ReadFrame 读取下一个完整帧，阻塞直到数据到达或连接出错
func (fs *FrameStream) ReadFrame() (packet.Frame, error) {
	fs.readLock.Lock()
	defer fs.readLock.Unlock()

	if fs.IsClosed() {
		return nil, errors.ErrStreamClosed
	}
	if fs.conn == nil {
		return nil, errors.ErrReaderNil
	}

	header := make([]byte, packet.LengthPrefixSize)
	if err := fs.readFull(header); err != nil {
		return nil, err
	}

	frameLen := int(binary.BigEndian.Uint32(header))
	if frameLen < packet.MinFrameSize {
		return nil, errors.NewFrameError("unknown", "zero length frame", errors.ErrMalformedFrame)
	}
	if frameLen > fs.codec.MaxFrameSize {
		return nil, errors.NewFrameError("unknown", "declared frame length exceeds bound", errors.ErrFrameTooLarge)
	}

	body := make([]byte, frameLen)
	if err := fs.readFull(body); err != nil {
		return nil, err
	}

	return fs.codec.Decode(body)
}

// readFull 循环读取直到填满缓冲区，期间响应上下文取消
func (fs *FrameStream) readFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		select {
		case <-fs.Ctx().Done():
			return fs.Ctx().Err()
		default:
		}

		n, err := fs.conn.Read(buf[total:])
		total += n
		if err != nil {
			if err == io.EOF && total == len(buf) {
				return nil
			}
			return errors.NewTransportError("stream", "read failed", err)
		}
	}
	return nil
}

// WriteFrame 编码并写出一个帧
func (fs *FrameStream) WriteFrame(frame packet.Frame) error {
	fs.writeLock.Lock()
	defer fs.writeLock.Unlock()

	if fs.IsClosed() {
		return errors.ErrStreamClosed
	}
	if fs.conn == nil {
		return errors.ErrWriterNil
	}

	data, err := fs.codec.Encode(frame)
	if err != nil {
		return err
	}

	total := 0
	for total < len(data) {
		n, err := fs.conn.Write(data[total:])
		total += n
		if err != nil {
			return errors.NewTransportError("stream", "write failed", err)
		}
	}
	return nil
}
