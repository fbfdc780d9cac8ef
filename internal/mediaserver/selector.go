package mediaserver

import (
	"fmt"
	"math/rand/v2"
)

// ClientView is what a Selector may know about a client when choosing the
// next rendition.
type ClientView struct {
	ScreenWidth  int
	ScreenHeight int
	VideoBuffer  float64
	AudioBuffer  float64
}

// Selector chooses the rendition of the next chunk sent to a client.
type Selector interface {
	Video(formats []VideoFormat, client ClientView) VideoFormat
	Audio(formats []AudioFormat, client ClientView) AudioFormat
}

// NewSelector returns the named selector: random, lowest or highest.
func NewSelector(name string) (Selector, error) {
	switch name {
	case "random":
		return randomSelector{}, nil
	case "lowest":
		return lowestSelector{}, nil
	case "highest":
		return highestSelector{}, nil
	default:
		return nil, fmt.Errorf("unknown selector %q", name)
	}
}

// capable filters out renditions larger than the client needs: anything
// above the smallest rendition that covers the screen. Formats are ordered
// from lowest to highest quality.
func capable(formats []VideoFormat, client ClientView) []VideoFormat {
	maxWidth, maxHeight := 0, 0
	for _, f := range formats {
		if client.ScreenHeight > 0 && f.Height >= client.ScreenHeight && (maxHeight == 0 || f.Height < maxHeight) {
			maxHeight = f.Height
		}
		if client.ScreenWidth > 0 && f.Width >= client.ScreenWidth && (maxWidth == 0 || f.Width < maxWidth) {
			maxWidth = f.Width
		}
	}

	out := make([]VideoFormat, 0, len(formats))
	for _, f := range formats {
		if (maxWidth == 0 || f.Width <= maxWidth) && (maxHeight == 0 || f.Height <= maxHeight) {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return formats
	}
	return out
}

type randomSelector struct{}

func (randomSelector) Video(formats []VideoFormat, client ClientView) VideoFormat {
	c := capable(formats, client)
	return c[rand.IntN(len(c))]
}

func (randomSelector) Audio(formats []AudioFormat, _ ClientView) AudioFormat {
	return formats[rand.IntN(len(formats))]
}

type lowestSelector struct{}

func (lowestSelector) Video(formats []VideoFormat, _ ClientView) VideoFormat {
	return formats[0]
}

func (lowestSelector) Audio(formats []AudioFormat, _ ClientView) AudioFormat {
	return formats[0]
}

type highestSelector struct{}

func (highestSelector) Video(formats []VideoFormat, client ClientView) VideoFormat {
	c := capable(formats, client)
	return c[len(c)-1]
}

func (highestSelector) Audio(formats []AudioFormat, _ ClientView) AudioFormat {
	return formats[len(formats)-1]
}
