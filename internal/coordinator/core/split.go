package core

// InputFile is the block layout of one input file.
type InputFile struct {
	Path       string
	BlockSizes []int64
}

func (f InputFile) Length() int64 {
	var n int64
	for _, size := range f.BlockSizes {
		n += size
	}
	return n
}

// PlanSplits divides files into at most n partitions. Without spanRecords
// every partition is a run of whole blocks; with it partitions are even byte
// ranges and records are realigned by the reader. A non-positive n means one
// partition per block. Empty input yields no partitions.
func PlanSplits(files []InputFile, n int, spanRecords bool) [][]Split {
	var (
		units []unit
		total int64
	)
	for _, file := range files {
		var offset int64
		for i, size := range file.BlockSizes {
			if size > 0 {
				units = append(units, unit{path: file.Path, block: i, offset: offset, size: size, global: total})
				total += size
			}
			offset += size
		}
	}
	if len(units) == 0 {
		return nil
	}
	if n <= 0 {
		n = len(units)
	}

	if !spanRecords {
		n = min(n, len(units))
		partitions := make([][]Split, 0, n)
		for i := range n {
			first, end := i*len(units)/n, (i+1)*len(units)/n
			partitions = append(partitions, mergeUnits(units[first:end], 0, total))
		}
		return partitions
	}

	if int64(n) > total {
		n = int(total)
	}
	partitions := make([][]Split, 0, n)
	for i := range n {
		start := int64(i) * total / int64(n)
		end := int64(i+1) * total / int64(n)
		partitions = append(partitions, mergeUnits(units, start, end))
	}
	return partitions
}

type unit struct {
	path   string
	block  int
	offset int64
	size   int64
	// global is the offset of the block across all input files.
	global int64
}

// mergeUnits clips units to the global byte range [start, end) and merges
// consecutive blocks of the same file into one split.
func mergeUnits(units []unit, start, end int64) []Split {
	var splits []Split
	for _, u := range units {
		lo, hi := max(u.global, start), min(u.global+u.size, end)
		if lo >= hi {
			continue
		}
		offset := u.offset + lo - u.global
		length := hi - lo

		if n := len(splits); n > 0 && splits[n-1].Path == u.path && splits[n-1].Offset+splits[n-1].Length == offset {
			splits[n-1].Length += length
			splits[n-1].EndBlock = u.block + 1
			continue
		}
		splits = append(splits, Split{
			Path:       u.path,
			FirstBlock: u.block,
			EndBlock:   u.block + 1,
			Offset:     offset,
			Length:     length,
		})
	}
	return splits
}
