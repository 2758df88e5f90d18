package imgutil

import (
	"bytes"
	"errors"
	"fmt"
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
)

const (
	// DefaultMaxDimension は正規化後の長辺の上限（ピクセル）です。
	DefaultMaxDimension = 1024
	// DefaultJPEGQuality は再エンコード時の JPEG 品質です。
	DefaultJPEGQuality = 80
)

// ErrDecode は画像としてデコードできないデータを示します。
var ErrDecode = errors.New("画像のデコードに失敗しました")

// Normalized は縮小・再エンコード済みの画像です。
type Normalized struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Normalize は画像データ（PNG, GIF, JPEG）をデコードし、長辺が maxDim 以下になるよう
// アスペクト比を保って縮小してから JPEG に再エンコードします。
// maxDim より小さい画像は拡大しません。EXIF の向きは補正されます。
func Normalize(data []byte, maxDim, quality int) (*Normalized, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	fitted := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, fitted, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("JPEG エンコードに失敗しました: %w", err)
	}

	b := fitted.Bounds()
	return &Normalized{
		Data:     buf.Bytes(),
		MimeType: "image/jpeg",
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}
