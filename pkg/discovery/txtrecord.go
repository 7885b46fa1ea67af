package discovery

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/meshcop-protocol/joiner-go/pkg/joiner"
	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
)

// TXT record keys for the joining service.
const (
	// TXTKeyExtAddress is the router's hardware identity, 16 hex chars.
	TXTKeyExtAddress = "xa"

	// TXTKeyPanID is the router's PAN id, 4 hex chars.
	TXTKeyPanID = "pi"

	// TXTKeyChannel is the radio channel, decimal.
	TXTKeyChannel = "ch"

	// TXTKeyJoinerPort is the joining UDP port, decimal.
	TXTKeyJoinerPort = "jp"

	// TXTKeySteeringData is the steering bitmap, hex. Optional; absent
	// means the router carries no steering information.
	TXTKeySteeringData = "sd"
)

// TXT codec errors.
var (
	// ErrMissingTXTKey indicates a required TXT key is absent.
	ErrMissingTXTKey = errors.New("missing TXT key")

	// ErrInvalidTXTValue indicates a TXT value that failed parsing.
	ErrInvalidTXTValue = errors.New("invalid TXT value")
)

// AgentInfo is the joining service announcement payload.
type AgentInfo struct {
	ExtAddress    joiner.ExtAddress
	PanID         uint16
	Channel       uint8
	JoinerUDPPort uint16
	SteeringData  meshcop.SteeringData
}

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeAgentTXT creates the TXT records for a joining service
// announcement.
func EncodeAgentTXT(info *AgentInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyExtAddress: hex.EncodeToString(info.ExtAddress[:]),
		TXTKeyPanID:      fmt.Sprintf("%04x", info.PanID),
		TXTKeyChannel:    strconv.FormatUint(uint64(info.Channel), 10),
		TXTKeyJoinerPort: strconv.FormatUint(uint64(info.JoinerUDPPort), 10),
	}
	if len(info.SteeringData) > 0 {
		txt[TXTKeySteeringData] = hex.EncodeToString(info.SteeringData)
	}
	return txt
}

// DecodeAgentTXT parses a joining service announcement.
func DecodeAgentTXT(txt TXTRecordMap) (*AgentInfo, error) {
	info := &AgentInfo{}

	xa, ok := txt[TXTKeyExtAddress]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTXTKey, TXTKeyExtAddress)
	}
	ext, err := joiner.ParseExtAddress(xa)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTXTValue, TXTKeyExtAddress, err)
	}
	info.ExtAddress = ext

	pi, ok := txt[TXTKeyPanID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTXTKey, TXTKeyPanID)
	}
	pan, err := strconv.ParseUint(pi, 16, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTXTValue, TXTKeyPanID, err)
	}
	info.PanID = uint16(pan)

	ch, ok := txt[TXTKeyChannel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTXTKey, TXTKeyChannel)
	}
	channel, err := strconv.ParseUint(ch, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTXTValue, TXTKeyChannel, err)
	}
	info.Channel = uint8(channel)

	jp, ok := txt[TXTKeyJoinerPort]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTXTKey, TXTKeyJoinerPort)
	}
	port, err := strconv.ParseUint(jp, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTXTValue, TXTKeyJoinerPort, err)
	}
	info.JoinerUDPPort = uint16(port)

	if sd, ok := txt[TXTKeySteeringData]; ok {
		raw, err := hex.DecodeString(sd)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTXTValue, TXTKeySteeringData, err)
		}
		bitmap := meshcop.SteeringData(raw)
		if err := bitmap.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTXTValue, TXTKeySteeringData, err)
		}
		info.SteeringData = bitmap
	}

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings,
// the format mDNS libraries exchange.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			txt[parts[0]] = ""
		}
	}
	return txt
}
