package commpacket

import "encoding/json"

// ParsePacket returns *ShimReady or *ShimFailed, or nil for anything it does
// not recognise.
func ParsePacket(data []byte) interface{} {
	header := MsgHeader{}
	err := json.Unmarshal(data, &header)
	if err != nil {
		return nil
	}

	switch header.Type {
	case TypeShimReady:
		p := ShimReady{}
		if json.Unmarshal(data, &p) != nil {
			return nil
		}
		return &p
	case TypeShimFailed:
		p := ShimFailed{}
		if json.Unmarshal(data, &p) != nil {
			return nil
		}
		return &p
	default:
		return nil
	}
}
