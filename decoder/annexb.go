package decoder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mirrorcore/scrcpy"

	"github.com/rs/zerolog"
)

const maxPendingStream = 8 * 1024 * 1024

var (
	errEmptyChunk     = errors.New("empty chunk")
	errStreamOverflow = errors.New("no start code within buffered stream")
)

// AnnexB does not decode pixels. It reassembles H.264/H.265 access units and
// emits each one as a single plane picture, ready to be forwarded as an
// encoded sample. Parameter sets are cached and put in front of keyframes
// that arrive without them, so any keyframe can start a new viewer.
type AnnexB struct {
	codec  string
	framed bool
	log    zerolog.Logger
	now    func() time.Time
	start  time.Time

	params        map[byte][]byte
	width, height int

	pending     []byte
	au          []byte
	auHasVCL    bool
	auKey       bool
	auHasParams bool
}

type AnnexBOption func(*AnnexB)

func WithAnnexBLogger(l zerolog.Logger) AnnexBOption {
	return func(d *AnnexB) { d.log = l.With().Str("mod", "annexb").Logger() }
}

// WithClock replaces the clock used to stamp pictures of an unframed stream.
func WithClock(now func() time.Time) AnnexBOption {
	return func(d *AnnexB) { d.now = now }
}

// NewAnnexB creates the decoder. framed must match the server's
// send_frame_meta: framed chunks are whole packets carrying their own PTS.
func NewAnnexB(codec string, framed bool, opts ...AnnexBOption) *AnnexB {
	d := &AnnexB{
		codec:  strings.TrimSpace(strings.ToLower(codec)),
		framed: framed,
		log:    zerolog.Nop(),
		now:    time.Now,
		params: make(map[byte][]byte),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Size is the picture size from the last SPS, zero until one was seen.
func (d *AnnexB) Size() (int, int) {
	return d.width, d.height
}

func (d *AnnexB) Decode(chunk scrcpy.MediaChunk) ([]Picture, error) {
	if len(chunk.Data) == 0 {
		return nil, errEmptyChunk
	}
	if d.framed {
		return d.decodePacket(chunk)
	}
	if !d.nalCodec() {
		return nil, fmt.Errorf("%w: cannot delimit unframed %q stream", ErrUnrecoverable, d.codec)
	}
	if d.start.IsZero() {
		d.start = d.now()
	}
	return d.decodeStream(chunk.Data)
}

func (d *AnnexB) Close() error {
	d.pending = nil
	d.au = nil
	return nil
}

func (d *AnnexB) nalCodec() bool {
	return d.codec == codecH264 || d.codec == codecH265
}

func (d *AnnexB) decodePacket(chunk scrcpy.MediaChunk) ([]Picture, error) {
	if chunk.IsConfig {
		if d.nalCodec() {
			for _, nal := range splitAnnexB(chunk.Data) {
				d.observeParameterSet(nal)
			}
		}
		return nil, nil
	}

	data := chunk.Data
	if chunk.IsKeyFrame && d.nalCodec() {
		hasParams := false
		for _, nal := range splitAnnexB(chunk.Data) {
			if d.observeParameterSet(nal) {
				hasParams = true
			}
		}
		if !hasParams {
			data = d.withParameterSets(chunk.Data)
		}
	}
	return []Picture{d.picture(data, chunk.PTS, chunk.IsKeyFrame)}, nil
}

func (d *AnnexB) decodeStream(data []byte) ([]Picture, error) {
	d.pending = append(d.pending, data...)
	if len(d.pending) > maxPendingStream {
		d.pending = d.pending[:0]
		d.resetAccessUnit()
		return nil, errStreamOverflow
	}

	start, scLen := findStartCode(d.pending, 0)
	if start < 0 {
		return nil, nil
	}
	var pics []Picture
	for {
		next, nextLen := findStartCode(d.pending, start+scLen)
		if next < 0 {
			break
		}
		if nal := trimTrailingZeros(d.pending[start+scLen : next]); len(nal) > 0 {
			if pic, ok := d.pushNAL(nal); ok {
				pics = append(pics, pic)
			}
		}
		start, scLen = next, nextLen
	}
	// keep the unterminated tail, start code included
	n := copy(d.pending, d.pending[start:])
	d.pending = d.pending[:n]
	return pics, nil
}

func (d *AnnexB) pushNAL(nal []byte) (Picture, bool) {
	t := nalType(d.codec, nal)
	vcl := isVCL(d.codec, t)

	var pic Picture
	flushed := false
	if d.auHasVCL && ((vcl && firstSliceInPicture(d.codec, nal)) || opensAccessUnit(d.codec, t)) {
		pic = d.flush()
		flushed = true
	}

	if d.observeParameterSet(nal) {
		d.auHasParams = true
	}
	d.au = append(d.au, startCode...)
	d.au = append(d.au, nal...)
	if vcl {
		d.auHasVCL = true
		if isIDR(d.codec, t) {
			d.auKey = true
		}
	}
	return pic, flushed
}

func (d *AnnexB) flush() Picture {
	var data []byte
	if d.auKey && !d.auHasParams {
		data = d.withParameterSets(d.au)
	} else {
		data = append([]byte(nil), d.au...)
	}
	pic := d.picture(data, d.now().Sub(d.start), d.auKey)
	d.resetAccessUnit()
	return pic
}

func (d *AnnexB) resetAccessUnit() {
	d.au = d.au[:0]
	d.auHasVCL = false
	d.auKey = false
	d.auHasParams = false
}

// observeParameterSet caches nal if it is a VPS/SPS/PPS and tracks the
// picture size from SPS.
func (d *AnnexB) observeParameterSet(nal []byte) bool {
	t := nalType(d.codec, nal)
	if !isParameterSet(d.codec, t) {
		return false
	}
	d.params[t] = append(d.params[t][:0], nal...)
	if isSPS(d.codec, t) {
		w, h, err := spsSize(d.codec, nal)
		if err != nil {
			d.log.Debug().Err(err).Msg("unparsable sps")
		} else if w != d.width || h != d.height {
			d.log.Info().Int("width", w).Int("height", h).Msg("picture size changed")
			d.width, d.height = w, h
		}
	}
	return true
}

func (d *AnnexB) withParameterSets(payload []byte) []byte {
	order := []byte{7, 8}
	if d.codec == codecH265 {
		order = []byte{32, 33, 34}
	}
	var merged []byte
	for _, t := range order {
		if nal := d.params[t]; len(nal) > 0 {
			merged = append(merged, startCode...)
			merged = append(merged, nal...)
		}
	}
	return append(merged, payload...)
}

func (d *AnnexB) picture(data []byte, pts time.Duration, key bool) Picture {
	return Picture{
		Planes:   [][]byte{data},
		Strides:  []int{len(data)},
		Width:    d.width,
		Height:   d.height,
		PTS:      pts,
		KeyFrame: key,
	}
}
