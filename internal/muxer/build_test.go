package muxer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAnnexBThreeByteStartCode(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1E}
	nals := ParseAnnexB(data)
	assert.Len(t, nals, 1)
	assert.Equal(t, uint8(NALUnitTypeSPS), nals[0].Type)
	assert.Equal(t, []byte{0x67, 0x42, 0x00, 0x1E}, nals[0].Data)
}

func TestParseAnnexBMultipleNALs(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1E,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x3C, 0x80,
	}
	nals := ParseAnnexB(data)
	assert.Len(t, nals, 2)
	assert.Equal(t, uint8(NALUnitTypeSPS), nals[0].Type)
	assert.Equal(t, uint8(NALUnitTypePPS), nals[1].Type)
}

func TestNALsToAVCC(t *testing.T) {
	nals := []NALUnit{{Type: NALUnitTypeIDR, Data: []byte{0x65, 0x88, 0x84}}}
	avcc := NALsToAVCC(nals)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x03, 0x65, 0x88, 0x84}, avcc)
}

func TestBuildAVCDecoderConfigurationRecord(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1E, 0xAB, 0xCD}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}

	config, err := BuildAVCDecoderConfigurationRecord(sps, pps)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x01), config[0])
	assert.Equal(t, byte(0x42), config[1])
	assert.Equal(t, byte(0x00), config[2])
	assert.Equal(t, byte(0x1E), config[3])
	assert.Equal(t, byte(0xFF), config[4])
	assert.Equal(t, byte(0xE1), config[5])
}

func TestBuildFLVVideoTagKeyframe(t *testing.T) {
	data := []byte{0x65, 0x88, 0x84}
	tag := BuildFLVVideoTag(data, true, false, 0)

	assert.Equal(t, byte(0x17), tag[0])
	assert.Equal(t, byte(0x01), tag[1])
	assert.Equal(t, []byte{0x00, 0x00, 0x00}, tag[2:5])
	assert.Equal(t, data, tag[5:])
}

func TestBuildFLVVideoTagSequenceHeader(t *testing.T) {
	data := []byte{0x01, 0x42, 0x00, 0x1E}
	tag := BuildFLVVideoTag(data, true, true, 0)

	assert.Equal(t, byte(0x17), tag[0])
	assert.Equal(t, byte(0x00), tag[1])
}

func TestFilterParameterSets(t *testing.T) {
	nals := []NALUnit{
		{Type: NALUnitTypeSPS, Data: []byte{0x67}},
		{Type: NALUnitTypePPS, Data: []byte{0x68}},
		{Type: NALUnitTypeIDR, Data: []byte{0x65}},
	}
	filtered := FilterParameterSets(nals)
	assert.Len(t, filtered, 1)
	assert.Equal(t, uint8(NALUnitTypeIDR), filtered[0].Type)
}

func TestRoundTripBuildThenParseAVCC(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1E, 0xAB, 0xCD}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}

	config, err := BuildAVCDecoderConfigurationRecord(sps, pps)
	assert.NoError(t, err)

	parsed, err := ParseAVCDecoderConfigurationRecord(config)
	assert.NoError(t, err)
	assert.Equal(t, sps, parsed.SPS[0])
	assert.Equal(t, pps, parsed.PPS[0])
}
