package domain

// ReferenceImage は生成リクエストに添付する、正規化済みの参照画像です。
// Data はアップロード時に縮小・再エンコード済みであり、以降は変更されません。
type ReferenceImage struct {
	ID       string `json:"id"`
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// ImageGenerationRequest は単一の画像生成要求です。
type ImageGenerationRequest struct {
	Prompt      string
	Model       ModelVariant
	Resolution  Resolution
	AspectRatio string
	References  []ReferenceImage
	// PreserveIdentity は参照画像の商品を一切変えずに背景だけを作り直すモードです。
	PreserveIdentity bool
}

// ImageResponse は生成された画像データとそのメタデータです。
type ImageResponse struct {
	Data     []byte
	MimeType string
}
