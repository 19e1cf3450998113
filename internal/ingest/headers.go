package ingest

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket"
)

// FrameHeader names one clustered file system's wire-level framing header:
// a fixed-size magic sentinel prepended to the first TCP segment of an
// RPC reply, used to tell a header-only Recvfrom from a body Recvfrom
// during the frame/body merge pass (spec.md §4.3 step 2, §6 "FS header
// sentinels").
type FrameHeader struct {
	Size  int
	Ident []byte
	layer gopacket.DecodingLayer
}

var (
	// LayerTypeBeeGFS decodes BeeGFS's 40-byte RPC header, magic
	// 53 46 47 42 ("SFGB").
	LayerTypeBeeGFS = gopacket.RegisterLayerType(8341, gopacket.LayerTypeMetadata{Name: "BeeGFSHeader", Decoder: gopacket.DecodeFunc(decodeBeeGFSHeader)})
	// LayerTypeOrangeFS decodes OrangeFS's 24-byte BMI header, magic
	// BF CA 00 00.
	LayerTypeOrangeFS = gopacket.RegisterLayerType(8342, gopacket.LayerTypeMetadata{Name: "OrangeFSHeader", Decoder: gopacket.DecodeFunc(decodeOrangeFSHeader)})
	// LayerTypeGlusterFS decodes GlusterFS's 4-byte RPC fragment header,
	// magic 80 00 00 80.
	LayerTypeGlusterFS = gopacket.RegisterLayerType(8343, gopacket.LayerTypeMetadata{Name: "GlusterFSHeader", Decoder: gopacket.DecodeFunc(decodeGlusterFSHeader)})
)

// BeeGFSHeader, BeeGFSHeader.Fields: MsgLength (4 bytes at offset 4) are the
// only field the merge pass needs to confirm the captured Recvfrom really
// is a full header and not a short read.
type beegfsHeader struct {
	gopacket.BaseLayer
	MsgLength uint32
}

func (h *beegfsHeader) LayerType() gopacket.LayerType { return LayerTypeBeeGFS }
func (h *beegfsHeader) CanDecode() gopacket.LayerClass { return LayerTypeBeeGFS }
func (h *beegfsHeader) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

func (h *beegfsHeader) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 40 {
		return errors.New("ingest: short BeeGFS header")
	}
	if data[0] != 0x53 || data[1] != 0x46 || data[2] != 0x47 || data[3] != 0x42 {
		return errors.New("ingest: BeeGFS magic mismatch")
	}
	h.MsgLength = binary.LittleEndian.Uint32(data[4:8])
	h.BaseLayer = gopacket.BaseLayer{Contents: data[:40], Payload: data[40:]}
	return nil
}

func decodeBeeGFSHeader(data []byte, p gopacket.PacketBuilder) error {
	h := &beegfsHeader{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return p.NextDecoder(h.NextLayerType())
}

type orangefsHeader struct {
	gopacket.BaseLayer
	Size uint32
}

func (h *orangefsHeader) LayerType() gopacket.LayerType     { return LayerTypeOrangeFS }
func (h *orangefsHeader) CanDecode() gopacket.LayerClass    { return LayerTypeOrangeFS }
func (h *orangefsHeader) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

func (h *orangefsHeader) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 24 {
		return errors.New("ingest: short OrangeFS header")
	}
	if data[0] != 0xBF || data[1] != 0xCA || data[2] != 0x00 || data[3] != 0x00 {
		return errors.New("ingest: OrangeFS magic mismatch")
	}
	h.Size = binary.LittleEndian.Uint32(data[4:8])
	h.BaseLayer = gopacket.BaseLayer{Contents: data[:24], Payload: data[24:]}
	return nil
}

func decodeOrangeFSHeader(data []byte, p gopacket.PacketBuilder) error {
	h := &orangefsHeader{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return p.NextDecoder(h.NextLayerType())
}

type glusterfsHeader struct {
	gopacket.BaseLayer
}

func (h *glusterfsHeader) LayerType() gopacket.LayerType     { return LayerTypeGlusterFS }
func (h *glusterfsHeader) CanDecode() gopacket.LayerClass    { return LayerTypeGlusterFS }
func (h *glusterfsHeader) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

func (h *glusterfsHeader) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 4 {
		return errors.New("ingest: short GlusterFS header")
	}
	if data[0] != 0x80 || data[1] != 0x00 || data[2] != 0x00 || data[3] != 0x80 {
		return errors.New("ingest: GlusterFS magic mismatch")
	}
	h.BaseLayer = gopacket.BaseLayer{Contents: data[:4], Payload: data[4:]}
	return nil
}

func decodeGlusterFSHeader(data []byte, p gopacket.PacketBuilder) error {
	h := &glusterfsHeader{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return p.NextDecoder(h.NextLayerType())
}

// BeeGFSFrameHeader, OrangeFSFrameHeader and GlusterFSFrameHeader are the
// FrameHeader values internal/pconfig maps a configured `type` onto.
var (
	BeeGFSFrameHeader    = FrameHeader{Size: 40, Ident: []byte{0x53, 0x46, 0x47, 0x42}, layer: &beegfsHeader{}}
	OrangeFSFrameHeader  = FrameHeader{Size: 24, Ident: []byte{0xBF, 0xCA, 0x00, 0x00}, layer: &orangefsHeader{}}
	GlusterFSFrameHeader = FrameHeader{Size: 4, Ident: []byte{0x80, 0x00, 0x00, 0x80}, layer: &glusterfsHeader{}}
)

// matches reports whether content decodes as fh's header, i.e. it is
// exactly fh.Size bytes long and DecodeFromBytes succeeds against it.
func (fh FrameHeader) matches(content []byte) bool {
	if len(content) != fh.Size {
		return false
	}
	return fh.layer.DecodeFromBytes(content, gopacket.NilDecodeFeedback) == nil
}
