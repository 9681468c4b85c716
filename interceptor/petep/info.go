package petep

import (
	"encoding/json"
	"strconv"

	"github.com/Warxim/deluder/interceptor"
	"github.com/Warxim/deluder/message"
)

const defaultConnectionName = "Deluder Connection"

// ConnectionInfo describes a connection to PETEP. It is captured from the
// first message of the connection and sent once after connecting.
type ConnectionInfo struct {
	ID              string
	Socket          *int64
	Protocol        *string
	SourceIP        *string
	SourcePort      *int64
	SourcePath      *string
	DestinationIP   *string
	DestinationPort *int64
	DestinationPath *string
	Module          *string
}

// NewConnectionInfo snapshots the descriptor fields of md. The default
// connection carries only its id.
func NewConnectionInfo(id string, md message.Metadata) ConnectionInfo {
	info := ConnectionInfo{ID: id}
	if id == interceptor.DefaultConnectionID {
		return info
	}
	info.Socket = intField(md, message.KeySocket)
	info.Protocol = textField(md, message.KeyProtocol)
	info.SourceIP = textField(md, message.KeySourceIP)
	info.SourcePort = intField(md, message.KeySourcePort)
	info.SourcePath = textField(md, message.KeySourcePath)
	info.DestinationIP = textField(md, message.KeyDestinationIP)
	info.DestinationPort = intField(md, message.KeyDestinationPort)
	info.DestinationPath = textField(md, message.KeyDestinationPath)
	info.Module = textField(md, message.KeyModule)
	return info
}

// Source renders the source address, ok is false when unresolved.
func (i ConnectionInfo) Source() (string, bool) {
	return address(i.SourceIP, i.SourcePort, i.SourcePath)
}

// Destination renders the destination address, ok is false when unresolved.
func (i ConnectionInfo) Destination() (string, bool) {
	return address(i.DestinationIP, i.DestinationPort, i.DestinationPath)
}

// Name is the display name PETEP shows for the connection.
func (i ConnectionInfo) Name() string {
	if i.ID == interceptor.DefaultConnectionID {
		return defaultConnectionName
	}

	src, srcOK := i.Source()
	dst, dstOK := i.Destination()
	if src == "" && dst == "" {
		return i.ID + i.suffix()
	}
	if !srcOK {
		src = "?"
	}
	if !dstOK {
		dst = "?"
	}
	return src + "<->" + dst + i.suffix()
}

func (i ConnectionInfo) suffix() string {
	if i.ID == interceptor.DefaultConnectionID {
		return ""
	}
	s := ""
	if i.Module != nil {
		s += *i.Module
	}
	if i.Protocol != nil {
		s += "/" + *i.Protocol
	}
	if s == "" {
		return ""
	}
	return " (" + s + ")"
}

func (i ConnectionInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID              string  `json:"id"`
		Socket          *int64  `json:"socket"`
		Protocol        *string `json:"protocol"`
		Name            string  `json:"name"`
		SourceIP        *string `json:"sourceIp"`
		SourcePort      *int64  `json:"sourcePort"`
		SourcePath      *string `json:"sourcePath"`
		DestinationIP   *string `json:"destinationIp"`
		DestinationPort *int64  `json:"destinationPort"`
		DestinationPath *string `json:"destinationPath"`
		Module          *string `json:"module"`
	}{
		ID:              i.ID,
		Socket:          i.Socket,
		Protocol:        i.Protocol,
		Name:            i.Name(),
		SourceIP:        i.SourceIP,
		SourcePort:      i.SourcePort,
		SourcePath:      i.SourcePath,
		DestinationIP:   i.DestinationIP,
		DestinationPort: i.DestinationPort,
		DestinationPath: i.DestinationPath,
		Module:          i.Module,
	})
}

// address renders ip:port, with loopback shortened to :port. An ip without
// a port renders alone; otherwise the path is used.
func address(ip *string, port *int64, path *string) (string, bool) {
	if ip != nil {
		if port != nil {
			p := strconv.FormatInt(*port, 10)
			if *ip == "127.0.0.1" {
				return ":" + p, true
			}
			return *ip + ":" + p, true
		}
		return *ip, true
	}
	if path != nil {
		return *path, true
	}
	return "", false
}

func textField(md message.Metadata, key string) *string {
	v, ok := md.Text(key)
	if !ok {
		return nil
	}
	return &v
}

func intField(md message.Metadata, key string) *int64 {
	v, ok := md.Int(key)
	if !ok {
		return nil
	}
	return &v
}
