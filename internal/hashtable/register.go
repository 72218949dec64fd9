package hashtable

import (
	"encoding/json"
	"fmt"

	"github.com/dreamware/jiffy/internal/partition"
	"github.com/dreamware/jiffy/internal/registry"
)

// TypeName is the partition type string setup_block and the registry key
// on for this package (spec §4.5).
const TypeName = "hashtable"

func init() {
	registry.Register(TypeName, build)
}

// wireConfig is the JSON shape setup_block's partition_config blob takes
// for a hash-table partition; zero-value fields fall back to
// DefaultConfig's.
type wireConfig struct {
	Capacity        int64   `json:"capacity,omitempty"`
	ThresholdHi     float64 `json:"threshold_hi,omitempty"`
	ThresholdLo     float64 `json:"threshold_lo,omitempty"`
	AutoScale       bool    `json:"auto_scale,omitempty"`
	DirectoryAddr   string  `json:"directory_addr,omitempty"`
	AutoScaleAddr   string  `json:"auto_scale_addr,omitempty"`
	GetDataBatchMax int     `json:"get_data_batch_max,omitempty"`
}

func build(name, metadata string, configBlob []byte) (partition.Partition, error) {
	slots, err := ParseName(name)
	if err != nil {
		return nil, fmt.Errorf("hashtable: build: %w", err)
	}

	cfg := DefaultConfig()
	if len(configBlob) > 0 {
		var wc wireConfig
		if err := json.Unmarshal(configBlob, &wc); err != nil {
			return nil, fmt.Errorf("hashtable: build: decoding config: %w", err)
		}
		if wc.Capacity > 0 {
			cfg.Capacity = wc.Capacity
		}
		if wc.ThresholdHi > 0 {
			cfg.ThresholdHi = wc.ThresholdHi
		}
		if wc.ThresholdLo > 0 {
			cfg.ThresholdLo = wc.ThresholdLo
		}
		if wc.GetDataBatchMax > 0 {
			cfg.GetDataBatchMax = wc.GetDataBatchMax
		}
		cfg.AutoScale = wc.AutoScale
		cfg.DirectoryAddr = wc.DirectoryAddr
		cfg.AutoScaleAddr = wc.AutoScaleAddr
	}

	return New(slots.Begin, slots.End, metadata, cfg, nil), nil
}
