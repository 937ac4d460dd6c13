// Package gstreamer renders media through a GStreamer pipeline. The real
// driver needs the gstreamer build tag; without it NewDriver fails.
package gstreamer

import (
	"fmt"
	"strings"
)

// DefaultPipeline plays any URI on the default audio sink.
const DefaultPipeline = `playbin uri="{url}" volume={volume}`

// Config configures the driver. Pipeline is a gst-launch template that may
// reference {url}, {device} and {volume}.
type Config struct {
	Pipeline string
	Device   string
}

func (c Config) render(url string, volume float64) string {
	pipeline := c.Pipeline
	if strings.TrimSpace(pipeline) == "" {
		pipeline = DefaultPipeline
	}
	return strings.NewReplacer(
		"{url}", url,
		"{device}", c.Device,
		"{volume}", fmt.Sprintf("%0.2f", volume),
	).Replace(pipeline)
}
