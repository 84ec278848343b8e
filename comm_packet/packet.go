package commpacket

import "encoding/json"

// Reports written by `sourcebox_shim init` from inside the new namespaces to
// the sourcebox process that cloned it. The first packet on the pipe is either
// ShimReady or ShimFailed. After ShimReady a failed exec adds a ShimFailed; a
// successful exec ends with EOF once sourcebox-init closes its stdout.

type MsgType int

const (
	// namespaces are set up, sourcebox-init is exec'd next
	TypeShimReady MsgType = iota
	// a step failed, the shim exits 1 right after
	TypeShimFailed
)

type MsgHeader struct {
	Type MsgType `json:"type"`
}

type ShimReady struct {
	MsgHeader
	// the shim's pid inside the new pid namespace, 1 unless pid was not unshared
	NSPid    int    `json:"ns_pid"`
	Hostname string `json:"hostname"`
	Loopback bool   `json:"loopback"`
}

func (p *ShimReady) MustMarshalToBytes() []byte {
	p.MsgHeader.Type = TypeShimReady
	bs, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}

	return bs
}

type ShimFailed struct {
	MsgHeader
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

func (p *ShimFailed) MustMarshalToBytes() []byte {
	p.MsgHeader.Type = TypeShimFailed
	bs, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}

	return bs
}

func (p *ShimFailed) Error() string {
	return "shim " + p.Stage + ": " + p.Reason
}
