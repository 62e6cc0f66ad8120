package decoder

import (
	"bytes"
	"errors"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

const (
	codecH264 = "h264"
	codecH265 = "h265"
)

// findStartCode returns the offset and length of the next 3 or 4 byte start code.
func findStartCode(b []byte, from int) (int, int) {
	n := len(b)
	for i := from; i+2 < n; i++ {
		if b[i] != 0x00 || b[i+1] != 0x00 {
			continue
		}
		if i+3 < n && b[i+2] == 0x00 && b[i+3] == 0x01 {
			return i, 4
		}
		if b[i+2] == 0x01 {
			return i, 3
		}
	}
	return -1, 0
}

func trimTrailingZeros(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0x00 {
		i--
	}
	return b[:i]
}

// splitAnnexB splits a complete Annex-B buffer into NAL units without start codes.
func splitAnnexB(b []byte) [][]byte {
	var out [][]byte
	start, scLen := findStartCode(b, 0)
	for start >= 0 {
		next, nextLen := findStartCode(b, start+scLen)
		end := next
		if next < 0 {
			end = len(b)
		}
		if nal := trimTrailingZeros(b[start+scLen : end]); len(nal) > 0 {
			out = append(out, nal)
		}
		start, scLen = next, nextLen
	}
	return out
}

func nalType(codec string, nal []byte) byte {
	if codec == codecH265 {
		return (nal[0] >> 1) & 0x3F
	}
	return nal[0] & 0x1F
}

func isVCL(codec string, t byte) bool {
	if codec == codecH265 {
		return t < 32
	}
	return t >= 1 && t <= 5
}

func isIDR(codec string, t byte) bool {
	if codec == codecH265 {
		return t >= 16 && t <= 21
	}
	return t == 5
}

func isParameterSet(codec string, t byte) bool {
	if codec == codecH265 {
		return t >= 32 && t <= 34
	}
	return t == 7 || t == 8
}

func isSPS(codec string, t byte) bool {
	if codec == codecH265 {
		return t == 33
	}
	return t == 7
}

// opensAccessUnit reports non-VCL units that can only appear before the
// first slice of a picture (AUD, parameter sets, prefix SEI).
func opensAccessUnit(codec string, t byte) bool {
	if codec == codecH265 {
		return (t >= 32 && t <= 35) || t == 39 || (t >= 41 && t <= 44) || (t >= 48 && t <= 55)
	}
	return (t >= 6 && t <= 9) || (t >= 14 && t <= 18)
}

// firstSliceInPicture checks first_mb_in_slice == 0 (H.264) or
// first_slice_segment_in_pic_flag (H.265). Both are the top bit after the header.
func firstSliceInPicture(codec string, nal []byte) bool {
	hdr := 1
	if codec == codecH265 {
		hdr = 2
	}
	return len(nal) > hdr && nal[hdr]&0x80 != 0
}

type bitReader struct {
	data   []byte
	offset int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

var errShortRead = errors.New("bitstream exhausted")

func (r *bitReader) ReadBits(n int) uint32 {
	var res uint32
	for i := 0; i < n; i++ {
		byteOffset := r.offset / 8
		bitOffset := 7 - (r.offset % 8)
		r.offset++
		if byteOffset >= len(r.data) {
			res <<= 1
			continue
		}
		res = (res << 1) | uint32((r.data[byteOffset]>>bitOffset)&1)
	}
	return res
}

func (r *bitReader) ReadUE() uint32 {
	leadingZeros := 0
	for r.ReadBits(1) == 0 {
		leadingZeros++
		if leadingZeros > 31 {
			return 0
		}
	}
	return (1 << leadingZeros) - 1 + r.ReadBits(leadingZeros)
}

func (r *bitReader) ReadSE() int32 {
	k := r.ReadUE()
	if k&1 == 1 {
		return int32((k + 1) / 2)
	}
	return -int32(k / 2)
}

func (r *bitReader) overrun() bool {
	return r.offset > len(r.data)*8
}

func removeEmulationPreventionBytes(data []byte) []byte {
	if !bytes.Contains(data, []byte{0, 0, 3}) {
		return data
	}
	buf := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 {
			buf = append(buf, 0, 0)
			i += 3
			continue
		}
		buf = append(buf, data[i])
		i++
	}
	return buf
}

// spsSize extracts the cropped picture size from an SPS NAL (header included).
func spsSize(codec string, sps []byte) (int, int, error) {
	if codec == codecH265 {
		return spsSizeH265(sps)
	}
	return spsSizeH264(sps)
}

func spsSizeH264(sps []byte) (int, int, error) {
	if len(sps) < 4 {
		return 0, 0, errors.New("h264 sps too short")
	}
	br := newBitReader(removeEmulationPreventionBytes(sps[1:]))
	profileIDC := br.ReadBits(8)
	br.ReadBits(8) // constraint flags
	br.ReadBits(8) // level_idc
	br.ReadUE()    // seq_parameter_set_id

	chromaFormatIDC := uint32(1)
	separateColourPlane := false
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		chromaFormatIDC = br.ReadUE()
		if chromaFormatIDC == 3 {
			separateColourPlane = br.ReadBits(1) == 1
		}
		br.ReadUE()    // bit_depth_luma_minus8
		br.ReadUE()    // bit_depth_chroma_minus8
		br.ReadBits(1) // qpprime_y_zero_transform_bypass_flag
		if br.ReadBits(1) == 1 {
			lists := 8
			if chromaFormatIDC == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if br.ReadBits(1) == 0 {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				last, next := int32(8), int32(8)
				for j := 0; j < size; j++ {
					if next != 0 {
						next = (last + br.ReadSE() + 256) % 256
					}
					if next != 0 {
						last = next
					}
				}
			}
		}
	}

	br.ReadUE() // log2_max_frame_num_minus4
	switch br.ReadUE() {
	case 0:
		br.ReadUE() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		br.ReadBits(1) // delta_pic_order_always_zero_flag
		br.ReadSE()    // offset_for_non_ref_pic
		br.ReadSE()    // offset_for_top_to_bottom_field
		n := br.ReadUE()
		for i := uint32(0); i < n && !br.overrun(); i++ {
			br.ReadSE()
		}
	}
	br.ReadUE()    // max_num_ref_frames
	br.ReadBits(1) // gaps_in_frame_num_value_allowed_flag
	widthMbs := br.ReadUE() + 1
	heightMapUnits := br.ReadUE() + 1
	frameMbsOnly := br.ReadBits(1)
	if frameMbsOnly == 0 {
		br.ReadBits(1) // mb_adaptive_frame_field_flag
	}
	br.ReadBits(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if br.ReadBits(1) == 1 {
		cropLeft = br.ReadUE()
		cropRight = br.ReadUE()
		cropTop = br.ReadUE()
		cropBottom = br.ReadUE()
	}
	if br.overrun() {
		return 0, 0, errShortRead
	}

	cropUnitX, cropUnitY := uint32(1), 2-frameMbsOnly
	if chromaFormatIDC != 0 && !separateColourPlane {
		subWidthC, subHeightC := uint32(2), uint32(2)
		switch chromaFormatIDC {
		case 2:
			subHeightC = 1
		case 3:
			subWidthC, subHeightC = 1, 1
		}
		cropUnitX = subWidthC
		cropUnitY = subHeightC * (2 - frameMbsOnly)
	}
	width := widthMbs*16 - (cropLeft+cropRight)*cropUnitX
	height := (2-frameMbsOnly)*heightMapUnits*16 - (cropTop+cropBottom)*cropUnitY
	return int(width), int(height), nil
}

func spsSizeH265(sps []byte) (int, int, error) {
	if len(sps) < 3 {
		return 0, 0, errors.New("h265 sps too short")
	}
	br := newBitReader(removeEmulationPreventionBytes(sps[2:]))
	br.ReadBits(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := int(br.ReadBits(3))
	br.ReadBits(1) // sps_temporal_id_nesting_flag

	// profile_tier_level: general part is 96 bits
	br.ReadBits(32)
	br.ReadBits(32)
	br.ReadBits(32)
	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for i := 0; i < maxSubLayersMinus1; i++ {
		profilePresent[i] = br.ReadBits(1) == 1
		levelPresent[i] = br.ReadBits(1) == 1
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			br.ReadBits(2)
		}
	}
	for i := 0; i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			br.ReadBits(32)
			br.ReadBits(32)
			br.ReadBits(24)
		}
		if levelPresent[i] {
			br.ReadBits(8)
		}
	}

	br.ReadUE() // sps_seq_parameter_set_id
	chromaFormatIDC := br.ReadUE()
	if chromaFormatIDC == 3 {
		br.ReadBits(1)
	}
	width := br.ReadUE()
	height := br.ReadUE()
	if br.ReadBits(1) == 1 {
		left, right, top, bottom := br.ReadUE(), br.ReadUE(), br.ReadUE(), br.ReadUE()
		subWidthC, subHeightC := uint32(1), uint32(1)
		switch chromaFormatIDC {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC = 2
		}
		width -= (left + right) * subWidthC
		height -= (top + bottom) * subHeightC
	}
	if br.overrun() {
		return 0, 0, errShortRead
	}
	return int(width), int(height), nil
}
