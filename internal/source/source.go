// Package source produces frames for the viewer: a camera, a single image, or a video file.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/lookout/internal/utils"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const megabyte = 1024 * 1024

// Source yields frames into dst. It returns false once no more frames will come.
type Source interface {
	Next(dst *gocv.Mat) (bool, error)
	Close() error
}

// Camera reads from a capture device and mirrors each frame horizontally.
type Camera struct {
	capture *gocv.VideoCapture
	buf     gocv.Mat
}

// OpenCamera opens the capture device with the given index.
func OpenCamera(device int) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", device, err)
	}
	log.WithField("device", device).Info("Camera opened")
	return &Camera{capture: capture, buf: gocv.NewMat()}, nil
}

// Next blocks until the device delivers a frame.
func (c *Camera) Next(dst *gocv.Mat) (bool, error) {
	if ok := c.capture.Read(&c.buf); !ok {
		return false, errors.New("camera stopped delivering frames")
	}
	if c.buf.Empty() {
		return false, errors.New("camera returned an empty frame")
	}
	gocv.Flip(c.buf, dst, 1)
	return true, nil
}

// Close releases the device.
func (c *Camera) Close() error {
	c.buf.Close()
	return c.capture.Close()
}

// Image yields a single still image, then reports exhaustion.
type Image struct {
	img  gocv.Mat
	done bool
}

// OpenImage decodes the image at path.
func OpenImage(path string) (*Image, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("failed to read image %s", path)
	}
	return &Image{img: img}, nil
}

// Next copies the image into dst the first time and returns false afterwards.
func (i *Image) Next(dst *gocv.Mat) (bool, error) {
	if i.done {
		return false, nil
	}
	i.done = true
	i.img.CopyTo(dst)
	return true, nil
}

// Close releases the decoded image.
func (i *Image) Close() error {
	return i.img.Close()
}

// Video decodes a file through ffmpeg, which streams MJPEG frames on its stdout.
type Video struct {
	cmd    *utils.SafeCommand
	stdout io.ReadCloser
	frames *bufio.Scanner
}

// OpenVideo starts the ffmpeg decoder for path.
func OpenVideo(path string) (*Video, error) {
	ffmpeg := utils.NewFFmpegCmd(path)
	stdout, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	log.WithField("path", path).Info("Decoding video")

	v := newVideo(stdout)
	v.cmd = ffmpeg
	return v, nil
}

func newVideo(r io.ReadCloser) *Video {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &Video{stdout: r, frames: scanner}
}

// Next decodes the next frame. It returns false at the end of the stream.
func (v *Video) Next(dst *gocv.Mat) (bool, error) {
	if !v.frames.Scan() {
		if err := v.frames.Err(); err != nil {
			return false, fmt.Errorf("frame scanner failed: %w", err)
		}
		return false, nil
	}

	frame, err := gocv.IMDecode(v.frames.Bytes(), gocv.IMReadColor)
	if err != nil {
		return false, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer frame.Close()
	if frame.Empty() {
		return false, errors.New("decoded an empty frame")
	}
	frame.CopyTo(dst)
	return true, nil
}

// Close stops the decoder and waits for it to exit.
func (v *Video) Close() error {
	v.stdout.Close()
	if v.cmd == nil {
		return nil
	}
	if v.cmd.Process != nil {
		v.cmd.Process.Kill()
	}
	if err := v.cmd.Wait(); err != nil && v.cmd.Stderr.Len() > 0 {
		log.WithField("stderr", v.cmd.Stderr.String()).Warn("ffmpeg exited with errors")
	}
	return nil
}
