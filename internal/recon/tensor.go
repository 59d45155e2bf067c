package recon

import "fmt"

// ImageTensor is a CHW float32 image as consumed by the encoders. The
// cropping collaborator produces it already normalized to the range
// and channel order the networks were trained on.
type ImageTensor struct {
	Data     []float32
	Channels int
	Height   int
	Width    int
}

// NewImageTensor wraps raw CHW data, checking that the buffer matches
// the declared dimensions.
func NewImageTensor(data []float32, channels, height, width int) (*ImageTensor, error) {
	if len(data) != channels*height*width {
		return nil, fmt.Errorf("tensor buffer has %d values, want %d (%dx%dx%d)",
			len(data), channels*height*width, channels, height, width)
	}
	return &ImageTensor{Data: data, Channels: channels, Height: height, Width: width}, nil
}

// check enforces the fixed single-image input contract.
func (t *ImageTensor) check(channels, height, width int) error {
	if t.Channels != channels || t.Height != height || t.Width != width {
		return fmt.Errorf("input tensor is %dx%dx%d, want %dx%dx%d",
			t.Channels, t.Height, t.Width, channels, height, width)
	}
	if len(t.Data) != channels*height*width {
		return fmt.Errorf("input tensor buffer has %d values, want %d",
			len(t.Data), channels*height*width)
	}
	return nil
}
