package filesystem

import (
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	apperrors "github.com/charlesng35/sessionlens/pkg/errors"
)

// Encoding names how raw file bytes are turned into text.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingLatin1 Encoding = "latin1"
	EncodingBase64 Encoding = "base64"
	EncodingHex    Encoding = "hex"
)

// Normalize resolves aliases and rejects unknown encodings. The empty
// encoding means utf8.
func (e Encoding) Normalize() (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(string(e))) {
	case "", "utf8", "utf-8":
		return EncodingUTF8, nil
	case "latin1", "binary", "iso-8859-1":
		return EncodingLatin1, nil
	case "base64":
		return EncodingBase64, nil
	case "hex":
		return EncodingHex, nil
	}
	return "", apperrors.ErrUnsupportedEncoding.WithMessage("unsupported encoding " + string(e))
}

// decode converts a whole file. e must already be normalised. Invalid UTF-8
// sequences become U+FFFD.
func (e Encoding) decode(data []byte) (string, error) {
	switch e {
	case EncodingLatin1:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return "", err
		}
		return string(out), nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(data), nil
	case EncodingHex:
		return hex.EncodeToString(data), nil
	default:
		out, err := unicode.UTF8.NewDecoder().Bytes(data)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// wrap applies the encoding to a byte stream. e must already be normalised.
func (e Encoding) wrap(src io.ReadCloser) io.ReadCloser {
	switch e {
	case EncodingLatin1:
		return &encodedStream{Reader: charmap.ISO8859_1.NewDecoder().Reader(src), src: src}
	case EncodingBase64, EncodingHex:
		pr, pw := io.Pipe()
		go func() {
			var w io.WriteCloser
			if e == EncodingBase64 {
				w = base64.NewEncoder(base64.StdEncoding, pw)
			} else {
				w = nopWriteCloser{hex.NewEncoder(pw)}
			}
			_, err := io.Copy(w, src)
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			pw.CloseWithError(err)
		}()
		return &encodedStream{Reader: pr, src: src, pipe: pr}
	default:
		return &encodedStream{Reader: unicode.UTF8.NewDecoder().Reader(src), src: src}
	}
}

// encodedStream fails every Read after Close, even when the decoder still
// holds buffered output.
type encodedStream struct {
	io.Reader
	src    io.Closer
	pipe   *io.PipeReader
	closed atomic.Bool
}

func (s *encodedStream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return s.Reader.Read(p)
}

func (s *encodedStream) Close() error {
	s.closed.Store(true)
	if s.pipe != nil {
		_ = s.pipe.Close()
	}
	return s.src.Close()
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
