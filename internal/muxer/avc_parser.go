package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// AVCDecoderConfigurationRecord is the parsed form of the ISO-14496-15
// sequence header, used by the transport layer's own round-trip tests to
// verify BuildAVCDecoderConfigurationRecord's output.
type AVCDecoderConfigurationRecord struct {
	ConfigurationVersion uint8
	AVCProfileIndication uint8
	ProfileCompatibility uint8
	AVCLevelIndication   uint8
	NALUnitLength        uint8
	SPS                  [][]byte
	PPS                  [][]byte
}

// ParseAVCDecoderConfigurationRecord parses an AVCC sequence header.
func ParseAVCDecoderConfigurationRecord(data []byte) (*AVCDecoderConfigurationRecord, error) {
	if len(data) < 11 {
		return nil, fmt.Errorf("muxer: data too short for AVCDecoderConfigurationRecord: %d bytes", len(data))
	}

	record := &AVCDecoderConfigurationRecord{}
	r := bytes.NewReader(data)

	if err := binary.Read(r, binary.BigEndian, &record.ConfigurationVersion); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &record.AVCProfileIndication); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &record.ProfileCompatibility); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &record.AVCLevelIndication); err != nil {
		return nil, err
	}

	var lengthSizeMinusOne uint8
	if err := binary.Read(r, binary.BigEndian, &lengthSizeMinusOne); err != nil {
		return nil, err
	}
	record.NALUnitLength = (lengthSizeMinusOne & 0x03) + 1

	var numOfSPS uint8
	if err := binary.Read(r, binary.BigEndian, &numOfSPS); err != nil {
		return nil, err
	}
	numOfSPS &= 0x1F

	record.SPS = make([][]byte, numOfSPS)
	for i := 0; i < int(numOfSPS); i++ {
		var spsLength uint16
		if err := binary.Read(r, binary.BigEndian, &spsLength); err != nil {
			return nil, fmt.Errorf("muxer: failed to read SPS length: %w", err)
		}
		sps := make([]byte, spsLength)
		if n, err := r.Read(sps); err != nil || n != int(spsLength) {
			return nil, fmt.Errorf("muxer: failed to read SPS data: %w", err)
		}
		record.SPS[i] = sps
	}

	var numOfPPS uint8
	if err := binary.Read(r, binary.BigEndian, &numOfPPS); err != nil {
		return nil, err
	}

	record.PPS = make([][]byte, numOfPPS)
	for i := 0; i < int(numOfPPS); i++ {
		var ppsLength uint16
		if err := binary.Read(r, binary.BigEndian, &ppsLength); err != nil {
			return nil, fmt.Errorf("muxer: failed to read PPS length: %w", err)
		}
		pps := make([]byte, ppsLength)
		if n, err := r.Read(pps); err != nil || n != int(ppsLength) {
			return nil, fmt.Errorf("muxer: failed to read PPS data: %w", err)
		}
		record.PPS[i] = pps
	}

	return record, nil
}

// ParseFLVVideoPacket extracts codec data and frame type from an FLV video
// tag payload; it is the parse counterpart of BuildFLVVideoTag.
func ParseFLVVideoPacket(data []byte) (isSequenceHeader bool, isKeyFrame bool, avcData []byte, err error) {
	if len(data) < 5 {
		return false, false, nil, fmt.Errorf("muxer: video packet too short: %d bytes", len(data))
	}

	frameType := (data[0] >> 4) & 0x0F
	codecID := data[0] & 0x0F
	if codecID != 7 {
		return false, false, nil, fmt.Errorf("muxer: not H.264/AVC codec: %d", codecID)
	}

	isKeyFrame = frameType == 1
	isSequenceHeader = data[1] == 0
	avcData = data[5:]
	return isSequenceHeader, isKeyFrame, avcData, nil
}
