package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// H.264 NAL unit types beyond the three declared in h264.go, needed to
// filter parameter sets out of per-frame payloads.
const (
	NALUnitTypeNonIDR = 1
	NALUnitTypeSEI     = 6
	NALUnitTypeAUD     = 9
)

// NALUnit is one parsed Annex-B NAL unit, header byte included.
type NALUnit struct {
	Type uint8
	Data []byte
}

// ParseAnnexB splits an Annex-B byte stream into individual NAL units.
func ParseAnnexB(data []byte) []NALUnit {
	var nals []NALUnit
	i := 0
	n := len(data)

	for i < n {
		scLen := startCodeLenAt(data, i)
		if scLen == 0 {
			i++
			continue
		}
		nalStart := i + scLen

		nalEnd := n
		j := nalStart
		for j+2 < n {
			if startCodeLenAt(data, j) > 0 {
				nalEnd = j
				break
			}
			j++
		}

		if nalStart < nalEnd {
			nalData := data[nalStart:nalEnd]
			if len(nalData) > 0 {
				nals = append(nals, NALUnit{Type: nalData[0] & 0x1F, Data: nalData})
			}
		}
		i = nalEnd
	}

	return nals
}

func startCodeLenAt(data []byte, i int) int {
	n := len(data)
	if i+3 <= n && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
		return 3
	}
	if i+4 <= n && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
		return 4
	}
	return 0
}

// NALsToAVCC packs NAL units into AVCC format: a 4-byte big-endian length
// prefix followed by the NAL unit data, repeated.
func NALsToAVCC(nals []NALUnit) []byte {
	var buf bytes.Buffer
	for _, nal := range nals {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nal.Data)))
		buf.Write(lenBuf[:])
		buf.Write(nal.Data)
	}
	return buf.Bytes()
}

// FilterParameterSets drops SPS/PPS/AUD NAL units, which belong in the
// sequence header rather than per-frame payloads.
func FilterParameterSets(nals []NALUnit) []NALUnit {
	out := make([]NALUnit, 0, len(nals))
	for _, nal := range nals {
		if nal.Type == NALUnitTypeSPS || nal.Type == NALUnitTypePPS || nal.Type == NALUnitTypeAUD {
			continue
		}
		out = append(out, nal)
	}
	return out
}

// BuildAVCDecoderConfigurationRecord builds the ISO-14496-15 sequence
// header from one SPS and one PPS NAL unit (header byte included, no
// start code).
func BuildAVCDecoderConfigurationRecord(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 {
		return nil, fmt.Errorf("muxer: SPS too short: %d bytes", len(sps))
	}

	var buf bytes.Buffer
	buf.WriteByte(0x01)  // configurationVersion
	buf.WriteByte(sps[1]) // AVCProfileIndication
	buf.WriteByte(sps[2]) // profile_compatibility
	buf.WriteByte(sps[3]) // AVCLevelIndication
	buf.WriteByte(0xFF)   // lengthSizeMinusOne=3 (reserved bits set to 1)
	buf.WriteByte(0xE1)   // numOfSequenceParameterSets=1 (reserved bits set to 1)

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(sps)))
	buf.Write(u16[:])
	buf.Write(sps)

	buf.WriteByte(0x01) // numOfPictureParameterSets
	binary.BigEndian.PutUint16(u16[:], uint16(len(pps)))
	buf.Write(u16[:])
	buf.Write(pps)

	return buf.Bytes(), nil
}

// BuildFLVVideoTag builds an FLV video tag payload (the bytes after the
// 11-byte FLV tag header) for H.264/AVC data.
func BuildFLVVideoTag(data []byte, isKeyframe, isSequenceHeader bool, compositionTime int32) []byte {
	buf := make([]byte, 0, 5+len(data))

	frameType := byte(0x20)
	if isKeyframe {
		frameType = 0x10
	}
	buf = append(buf, frameType|0x07) // codec ID 7 = AVC

	if isSequenceHeader {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
	}

	ct := uint32(compositionTime)
	buf = append(buf, byte(ct>>16), byte(ct>>8), byte(ct))
	buf = append(buf, data...)
	return buf
}

// BuildFLVAudioTag builds an FLV audio tag payload for AAC data.
// soundFormat 10 = AAC, soundRate 3 = 44kHz (ignored by AAC decoders,
// kept at the conventional value), soundSize 1 = 16-bit, soundType 1 = stereo.
func BuildFLVAudioTag(data []byte, isSequenceHeader bool) []byte {
	buf := make([]byte, 0, 2+len(data))
	const soundFormatAAC = 10
	header := byte(soundFormatAAC<<4) | (3 << 2) | (1 << 1) | 1
	buf = append(buf, header)

	if isSequenceHeader {
		buf = append(buf, 0x00) // AACPacketType = sequence header
	} else {
		buf = append(buf, 0x01) // AACPacketType = raw
	}
	buf = append(buf, data...)
	return buf
}
