package overlay

import (
	"encoding/base64"
	"fmt"
	"os"
)

// fallbackGIF is a 1x1 transparent GIF, shown when no animation is configured.
var fallbackGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// LoadGIF reads the animation shown on every donation. An empty path selects
// the built-in fallback.
func LoadGIF(path string) ([]byte, error) {
	if path == "" {
		return fallbackGIF, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gif %s: %w", path, err)
	}
	if len(data) < 6 || string(data[:3]) != "GIF" {
		return nil, fmt.Errorf("%s is not a GIF image", path)
	}
	return data, nil
}

// DataURI embeds gif in a URL the browser can assign to an <img> directly.
func DataURI(gif []byte) string {
	return "data:image/gif;base64," + base64.StdEncoding.EncodeToString(gif)
}
