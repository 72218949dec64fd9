package hashtable

// Config holds the tunables a hash-table partition is built with (spec
// §4.3, §4.4). DirectoryAddr and AutoScaleAddr are threaded through even
// though the services they name stay external collaborators (spec §1) —
// a partition needs to know where to ask, even if this module never
// implements the asking itself beyond the AutoScaler hook.
type Config struct {
	// Capacity is the byte budget the partition's size is measured
	// against for the "!full" / overload checks.
	Capacity int64
	// ThresholdHi is the fraction of Capacity above which a mutation
	// that would grow the partition further is rejected with "!full",
	// and overload() triggers a split request.
	ThresholdHi float64
	// ThresholdLo is the fraction of Capacity below which underload()
	// triggers a merge request.
	ThresholdLo float64
	// AutoScale enables the overload()/underload() triggers calling out
	// to the AutoScaler (spec §4.4). Off by default for partitions under
	// direct test control.
	AutoScale bool
	// DirectoryAddr is the directory service's address, passed through
	// to whatever resolves an export_target string into a block name;
	// the partition itself never dials it.
	DirectoryAddr string
	// AutoScaleAddr is the auto-scaling service's address, passed
	// through for the same reason.
	AutoScaleAddr string
	// GetDataBatchMax caps get_data_in_slot_range's default page size
	// when the caller passes max<=0.
	GetDataBatchMax int
}

// DefaultConfig returns the tunables used when a caller doesn't override
// them: 64MiB capacity, scale out above 85% full, scale in below 25%
// full, auto-scaling off (a directory-driven deployment turns it on
// explicitly via setup_block's partition_config).
func DefaultConfig() Config {
	return Config{
		Capacity:        64 << 20,
		ThresholdHi:     0.85,
		ThresholdLo:     0.25,
		AutoScale:       false,
		GetDataBatchMax: 1024,
	}
}
