package adapter

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"time"

	"lumen-core/internal/errors"
	"lumen-core/internal/utils"

	"github.com/quic-go/quic-go"
)

const quicProto = "lumen-quic"

// quicStreamConn QUIC流包装为字节管道，关闭时同时关闭底层连接
type quicStreamConn struct {
	stream *quic.Stream
	conn   *quic.Conn
}

func (q *quicStreamConn) Read(p []byte) (int, error)  { return q.stream.Read(p) }
func (q *quicStreamConn) Write(p []byte) (int, error) { return q.stream.Write(p) }

func (q *quicStreamConn) Close() error {
	_ = q.stream.Close()
	return q.conn.CloseWithError(quic.ApplicationErrorCode(0), "closed")
}

// QUICAdapter QUIC协议适配器，每条连接承载一条双向流
type QUICAdapter struct {
	BaseAdapter
	listener  *quic.Listener
	tlsConfig *tls.Config
}

// NewQUICAdapter 创建QUIC适配器，使用自签名证书
func NewQUICAdapter(parentCtx context.Context) *QUICAdapter {
	a := &QUICAdapter{BaseAdapter: newBaseAdapter("quic")}
	a.tlsConfig = generateTLSConfig()
	a.SetCtx(parentCtx, a.onClose)
	return a
}

func (a *QUICAdapter) onClose() error {
	if a.listener != nil {
		return a.listener.Close()
	}
	return nil
}

// generateTLSConfig 生成QUIC所需的自签名证书
func generateTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		utils.Errorf("QUIC: failed to generate RSA key: %v", err)
		return nil
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Lumen"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		utils.Errorf("QUIC: failed to create certificate: %v", err)
		return nil
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		utils.Errorf("QUIC: failed to load key pair: %v", err)
		return nil
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{quicProto},
	}
}

// Listen 启动QUIC监听
func (a *QUICAdapter) Listen(addr string) error {
	if a.tlsConfig == nil {
		return errors.NewTransportError("quic", "TLS config not initialized", nil)
	}

	quicConf := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	listener, err := quic.ListenAddr(addr, a.tlsConfig, quicConf)
	if err != nil {
		return errors.NewTransportError("quic", "listen failed", err)
	}
	a.listener = listener
	a.SetAddr(listener.Addr().String())

	go a.acceptLoop()
	utils.Infof("QUIC adapter listening on %s", a.Addr())
	return nil
}

func (a *QUICAdapter) acceptLoop() {
	for {
		conn, err := a.listener.Accept(a.Ctx())
		if err != nil {
			select {
			case <-a.Ctx().Done():
				return
			default:
				utils.Warnf("QUIC accept error: %v", err)
				continue
			}
		}
		go a.acceptStream(conn)
	}
}

// acceptStream 每条QUIC连接接受一条双向流作为字节管道
// 对端在打开流后写入1字节探测以触发流注册，这里读掉它
func (a *QUICAdapter) acceptStream(conn *quic.Conn) {
	stream, err := conn.AcceptStream(a.Ctx())
	if err != nil {
		utils.Warnf("QUIC accept stream error: %v", err)
		_ = conn.CloseWithError(quic.ApplicationErrorCode(0), "failed to accept stream")
		return
	}

	probe := make([]byte, 1)
	if _, err := io.ReadFull(stream, probe); err != nil {
		utils.Warnf("QUIC stream probe read error: %v", err)
		_ = conn.CloseWithError(quic.ApplicationErrorCode(0), "bad stream probe")
		return
	}

	a.deliver(&quicStreamConn{stream: stream, conn: conn}, conn.RemoteAddr())
}

// Dial 建立QUIC连接并打开双向流
func (a *QUICAdapter) Dial(addr string) (io.ReadWriteCloser, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicProto},
	}

	ctx, cancel := context.WithTimeout(a.Ctx(), DefaultDialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, errors.NewTransportError("quic", "dial failed", err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(quic.ApplicationErrorCode(0), "failed to open stream")
		return nil, errors.NewTransportError("quic", "open stream failed", err)
	}

	// 写入1字节探测触发对端的流注册
	if _, err := stream.Write([]byte{0}); err != nil {
		_ = conn.CloseWithError(quic.ApplicationErrorCode(0), "probe write failed")
		return nil, errors.NewTransportError("quic", "stream probe failed", err)
	}

	return &quicStreamConn{stream: stream, conn: conn}, nil
}
