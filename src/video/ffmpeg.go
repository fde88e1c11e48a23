package video

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
)

const defaultFrameRate = "25"

type probeResult struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Tags       struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// ProbeFile reads the geometry and frame rate of the first video stream in
// path.
func ProbeFile(path string) (StreamInfo, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return StreamInfo{}, commons.NewMediaFormatError("couldn't open video", err)
	}
	return parseProbe(out)
}

func parseProbe(out string) (StreamInfo, error) {
	var res probeResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return StreamInfo{}, commons.NewMediaFormatError("couldn't read video metadata", err)
	}
	for _, s := range res.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return StreamInfo{}, commons.NewMediaFormatError(fmt.Sprintf("invalid frame size %dx%d", s.Width, s.Height), nil)
		}
		info := StreamInfo{Width: s.Width, Height: s.Height, FrameRate: normalizeFrameRate(s.RFrameRate)}
		// ffmpeg applies rotation metadata while decoding, so frames of a
		// stream rotated by 90 or 270 degrees come out transposed
		rotation := 0.0
		if r, err := strconv.ParseFloat(s.Tags.Rotate, 64); err == nil {
			rotation = r
		}
		for _, sd := range s.SideDataList {
			if sd.Rotation != 0 {
				rotation = sd.Rotation
			}
		}
		if quarterTurns := int(math.Round(rotation / 90)); quarterTurns%2 != 0 {
			info.Width, info.Height = info.Height, info.Width
		}
		return info, nil
	}
	return StreamInfo{}, commons.NewMediaFormatError("no video stream found", nil)
}

// normalizeFrameRate falls back to 25 fps for missing or degenerate rates
// ("0/0" is common for streams without timing information).
func normalizeFrameRate(rate string) string {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return defaultFrameRate
	}
	if !found {
		return rate
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return defaultFrameRate
	}
	return rate
}

type ffmpegSource struct {
	info   StreamInfo
	reader *io.PipeReader
	buf    []byte
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
	err    error
}

// OpenFFmpegSource starts decoding path into raw RGB frames. Streams that
// can't be probed fail with a MediaFormatError.
func OpenFFmpegSource(path string) (FrameSource, error) {
	info, err := ProbeFile(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	src := &ffmpegSource{
		info:   info,
		reader: pr,
		buf:    make([]byte, info.Width*info.Height*3),
		cancel: cancel,
		done:   make(chan error, 1),
	}

	// decode in the background, frames arrive through the pipe
	go func() {
		stream := ffmpeg.Input(path).
			Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgb24"})
		stream.Context = ctx
		err := stream.WithOutput(pw).Run()
		if err != nil {
			err = errors.Wrap(err, "ffmpeg decoder failed")
		}
		pw.CloseWithError(err)
		src.done <- err
	}()

	log.Debug("[Video] Decoding ", path, " (", info.Width, "x", info.Height, " @ ", info.FrameRate, ")")
	return src, nil
}

func (s *ffmpegSource) Info() StreamInfo {
	return s.info
}

func (s *ffmpegSource) Next() (image.Image, error) {
	n, err := io.ReadFull(s.reader, s.buf)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Errorf("stream ended inside a frame (%d of %d bytes)", n, len(s.buf))
		}
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	for i, j := 0, 0; i < len(s.buf); i, j = i+3, j+4 {
		img.Pix[j] = s.buf[i]
		img.Pix[j+1] = s.buf[i+1]
		img.Pix[j+2] = s.buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

func (s *ffmpegSource) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.reader.Close()
		// the decoder exits once the pipe is closed or the context is cancelled
		<-s.done
	})
	return s.err
}

type ffmpegSink struct {
	info   StreamInfo
	writer *io.PipeWriter
	buf    []byte
	done   chan error
}

// CreateFFmpegSink encodes the frames written to it into an H.264 MP4 at
// path with the geometry and frame rate of info.
func CreateFFmpegSink(path string, info StreamInfo) (FrameSink, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", info.Width, info.Height)
	}
	frameRate := info.FrameRate
	if frameRate == "" {
		frameRate = defaultFrameRate
	}

	pr, pw := io.Pipe()
	sink := &ffmpegSink{
		info:   info,
		writer: pw,
		buf:    make([]byte, info.Width*info.Height*3),
		done:   make(chan error, 1),
	}

	go func() {
		err := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
			"format":    "rawvideo",
			"pix_fmt":   "rgb24",
			"s":         fmt.Sprintf("%dx%d", info.Width, info.Height),
			"framerate": frameRate,
		}).
			Output(path, encoderArgs(info)).
			OverWriteOutput().
			WithInput(pr).
			Run()
		if err != nil {
			err = errors.Wrap(err, "ffmpeg encoder failed")
		}
		// unblock pending writes if the encoder died early
		pr.CloseWithError(err)
		sink.done <- err
	}()

	return sink, nil
}

// encoderArgs keeps the frame size exactly. 4:2:0 chroma needs even
// dimensions, odd sized streams are encoded as 4:4:4 instead.
func encoderArgs(info StreamInfo) ffmpeg.KwArgs {
	pixFmt := "yuv420p"
	if info.Width%2 != 0 || info.Height%2 != 0 {
		pixFmt = "yuv444p"
	}
	return ffmpeg.KwArgs{
		"vcodec":   "libx264",
		"pix_fmt":  pixFmt,
		"movflags": "+faststart",
	}
}

func (s *ffmpegSink) Write(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != s.info.Width || b.Dy() != s.info.Height {
		return errors.Errorf("frame is %dx%d, stream is %dx%d", b.Dx(), b.Dy(), s.info.Width, s.info.Height)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	for i, j := 0, 0; j < len(s.buf); i, j = i+4, j+3 {
		s.buf[j] = rgba.Pix[i]
		s.buf[j+1] = rgba.Pix[i+1]
		s.buf[j+2] = rgba.Pix[i+2]
	}

	_, err := s.writer.Write(s.buf)
	return err
}

// Close flushes the encoder and waits for the output file to be complete.
func (s *ffmpegSink) Close() error {
	err := s.writer.Close()
	return multierr.Append(err, <-s.done)
}
