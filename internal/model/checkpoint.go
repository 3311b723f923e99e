package model

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"
)

var checkpointMagic = [4]byte{'P', 'V', 'N', '1'}

// Save writes the network's configuration and parameters to path. The format
// is the magic, a JSON config block, then each parameter slice as a uint32
// length followed by little-endian float32 values.
func Save(n *ConvNet, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	w := bufio.NewWriter(f)

	cfgRaw, err := json.Marshal(n.cfg)
	if err != nil {
		f.Close()
		return fmt.Errorf("save checkpoint: %w", err)
	}

	w.Write(checkpointMagic[:])
	binary.Write(w, binary.LittleEndian, uint32(len(cfgRaw)))
	w.Write(cfgRaw)

	for _, p := range n.params() {
		binary.Write(w, binary.LittleEndian, uint32(len(p)))
		for _, v := range p {
			binary.Write(w, binary.LittleEndian, math.Float32bits(v))
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return f.Close()
}

// Load reads a checkpoint and reconstructs the network.
func Load(path string) (*ConvNet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var mg [4]byte
	if _, err := io.ReadFull(r, mg[:]); err != nil || mg != checkpointMagic {
		return nil, fmt.Errorf("load checkpoint %s: not a checkpoint file", path)
	}

	var cfgLen uint32
	if err := binary.Read(r, binary.LittleEndian, &cfgLen); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cfgRaw := make([]byte, cfgLen)
	if _, err := io.ReadFull(r, cfgRaw); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(cfgRaw, &cfg); err != nil {
		return nil, fmt.Errorf("load checkpoint config: %w", err)
	}

	n, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	for _, p := range n.params() {
		var plen uint32
		if err := binary.Read(r, binary.LittleEndian, &plen); err != nil {
			return nil, fmt.Errorf("load checkpoint params: %w", err)
		}
		if int(plen) != len(p) {
			return nil, fmt.Errorf("load checkpoint: parameter length %d, want %d", plen, len(p))
		}
		buf := make([]byte, 4*len(p))
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("load checkpoint params: %w", err)
		}
		for i := range p {
			p[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	}
	return n, nil
}
