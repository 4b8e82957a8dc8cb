package captcha

import (
	"encoding/base64"
	"fmt"
)

// Encode converts raw captcha image bytes to base64 for storage on the job
// row and transmission to the operator dashboard.
func Encode(image []byte) string {
	return base64.StdEncoding.EncodeToString(image)
}

// Decode reverses Encode.
func Decode(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode captcha image: %w", err)
	}
	return data, nil
}
