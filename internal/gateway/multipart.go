package gateway

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
)

// errNotMultipart はリクエストがmultipart/form-dataでないことを表す。
var errNotMultipart = errors.New("multipart/form-dataではありません")

// quoteEscaper はContent-Dispositionのパラメータ値をエスケープする。
var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// isMultipartForm はリクエストがmultipart/form-dataかどうかを返す。
func isMultipartForm(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// reencodedBody は再エンコード中のボディ。Closeは書き出し側のgoroutineが終わるまで待つ。
type reencodedBody struct {
	*io.PipeReader
	done      chan struct{}
	closeOnce sync.Once
}

// Close はパイプを閉じ、クライアントのボディを読むgoroutineが終了するのを待つ。
// ハンドラから戻った後にリクエストボディが読まれないことを保証する。
func (b *reencodedBody) Close() error {
	b.closeOnce.Do(func() {
		_ = b.PipeReader.CloseWithError(errReencodeAborted)
		<-b.done
	})
	return nil
}

// errReencodeAborted は転送が終わる前にボディが閉じられたことを表す。
var errReencodeAborted = errors.New("multipartの転送が中断されました")

// reencodeMultipart はmultipart/form-dataのボディをパートごとに読み直し、新しい境界で書き出す。
// 全体をメモリに載せず、io.Pipeで逐次送る。戻り値のContent-Typeは新しい境界を含む。
func reencodeMultipart(r *http.Request) (io.ReadCloser, string, error) {
	if !isMultipartForm(r) {
		return nil, "", errNotMultipart
	}
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("multipartの読み込みに失敗: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	contentType := writer.FormDataContentType()
	body := &reencodedBody{PipeReader: pr, done: make(chan struct{})}

	go func() {
		defer close(body.done)
		err := copyParts(reader, writer)
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()
	return body, contentType, nil
}

// copyParts は全パートを書き出す。ファイルパートはフィールド名・ファイル名・Content-Typeを保つ。
func copyParts(reader *multipart.Reader, writer *multipart.Writer) error {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("パートの読み込みに失敗: %w", err)
		}

		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}

		var dst io.Writer
		if filename := rawFileName(part); filename != "" {
			dst, err = writer.CreatePart(filePartHeader(name, filename, part.Header.Get("Content-Type")))
		} else {
			dst, err = writer.CreateFormField(name)
		}
		if err != nil {
			_ = part.Close()
			return fmt.Errorf("パートの書き出しに失敗: %w", err)
		}
		if _, err := io.Copy(dst, part); err != nil {
			_ = part.Close()
			return fmt.Errorf("パートのコピーに失敗: %w", err)
		}
		_ = part.Close()
	}
}

// rawFileName はContent-Dispositionのfilenameをそのまま返す。
// part.FileNameと違い、ディレクトリ部分を落とさない。
func rawFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// filePartHeader はファイルパートのヘッダーを組み立てる。
func filePartHeader(name, filename, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(name), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	return h
}
