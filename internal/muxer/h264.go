package muxer

// H.264 NAL unit types used across the build and parse sides of the muxer.
const (
	NALUnitTypeSPS = 7
	NALUnitTypePPS = 8
	NALUnitTypeIDR = 5
)

// Annex-B start codes.
var (
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	StartCode3 = []byte{0x00, 0x00, 0x01}
)
