package endpoint

import (
	"fmt"
	"strconv"
	"strings"
)

// Addr is a normalized endpoint identity. Immutable once built.
type Addr struct {
	Host string
	Port uint16
}

func (a Addr) Key() string {
	return a.Host + ":" + strconv.FormatUint(uint64(a.Port), 10)
}

func (a Addr) String() string {
	return a.Key()
}

func (a Addr) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

func FromString(str string) (Addr, error) {
	host, portStr, ok := strings.Cut(str, ":")
	if !ok {
		return Addr{}, fmt.Errorf("invalid format: want host:port, got %q", str)
	}
	if host == "" {
		return Addr{}, fmt.Errorf("invalid format: empty host in %q", str)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("failed to parse port: %w", err)
	}
	return Addr{
		Host: host,
		Port: uint16(port),
	}, nil
}

// Parse normalizes the endpoint specifications callers hand to the engine:
// a "host:port" string, an Addr, a {Host,Port} map, or a list of any of those.
func Parse(spec any) ([]Addr, error) {
	switch v := spec.(type) {
	case nil:
		return nil, fmt.Errorf("nil endpoint spec")
	case Addr:
		return []Addr{v}, nil
	case string:
		addr, err := FromString(v)
		if err != nil {
			return nil, err
		}
		return []Addr{addr}, nil
	case []Addr:
		out := make([]Addr, len(v))
		copy(out, v)
		return out, nil
	case []string:
		out := make([]Addr, 0, len(v))
		for _, s := range v {
			addr, err := FromString(s)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
		return out, nil
	case map[string]any:
		return parseRecord(v)
	case []any:
		out := make([]Addr, 0, len(v))
		for _, item := range v {
			addrs, err := Parse(item)
			if err != nil {
				return nil, err
			}
			out = append(out, addrs...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported endpoint spec type %T", spec)
	}
}

func parseRecord(rec map[string]any) ([]Addr, error) {
	host, _ := rec["host"].(string)
	if host == "" {
		return nil, fmt.Errorf("endpoint record without host")
	}
	var port uint64
	switch p := rec["port"].(type) {
	case int:
		port = uint64(p)
	case int64:
		port = uint64(p)
	case float64:
		port = uint64(p)
	case string:
		parsed, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("failed to parse port: %w", err)
		}
		port = parsed
	default:
		return nil, fmt.Errorf("endpoint record without port")
	}
	if port == 0 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range", port)
	}
	return []Addr{{Host: host, Port: uint16(port)}}, nil
}
