package transfer

import "fmt"

// DefaultChunkSize is the transport chunk size for ranged reads and parts.
const DefaultChunkSize = 16 * 1024 * 1024

// LaneStrategy decides how chunks are grouped into permit-holding lanes.
type LaneStrategy string

const (
	// LaneStrategyContiguous slices the ordered chunk list into consecutive
	// groups of min(capacity, chunkCount) chunks. When chunkCount <= capacity
	// a single lane forms and the transfer runs sequentially; parallelism
	// appears only once the chunk count exceeds the capacity.
	LaneStrategyContiguous LaneStrategy = "contiguous"
	// LaneStrategyRoundRobin forms min(capacity, chunkCount) lanes and deals
	// chunk i to lane i mod lanes, so small transfers parallelize too.
	LaneStrategyRoundRobin LaneStrategy = "round_robin"
)

// ParseLaneStrategy validates a configured strategy name.
func ParseLaneStrategy(s string) (LaneStrategy, error) {
	switch strategy := LaneStrategy(s); strategy {
	case "":
		return LaneStrategyContiguous, nil
	case LaneStrategyContiguous, LaneStrategyRoundRobin:
		return strategy, nil
	default:
		return "", fmt.Errorf("unknown lane strategy: %q", s)
	}
}

// Chunk is a contiguous byte range of an encoded artifact.
type Chunk struct {
	Index  int
	Offset int64
	Length int64
}

// PartNumber is the 1-based multipart part number for the chunk.
func (c Chunk) PartNumber() int {
	return c.Index + 1
}

// PlanChunks partitions [0, size) into chunks of chunkSize bytes; the last
// chunk may be shorter. A zero size yields no chunks.
func PlanChunks(size, chunkSize int64) []Chunk {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}
	count := (size + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, count)
	for offset := int64(0); offset < size; offset += chunkSize {
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Offset: offset, Length: length})
	}
	return chunks
}

// PlanLanes assigns chunk indices [0, chunkCount) to lanes. Every chunk
// appears in exactly one lane, in ascending order within its lane.
func PlanLanes(chunkCount, capacity int, strategy LaneStrategy) [][]int {
	if chunkCount <= 0 {
		return nil
	}
	if capacity <= 0 {
		capacity = 1
	}
	width := min(capacity, chunkCount)

	var lanes [][]int
	switch strategy {
	case LaneStrategyRoundRobin:
		lanes = make([][]int, width)
		for i := 0; i < chunkCount; i++ {
			lanes[i%width] = append(lanes[i%width], i)
		}
	default:
		for start := 0; start < chunkCount; start += width {
			end := min(start+width, chunkCount)
			lane := make([]int, 0, end-start)
			for i := start; i < end; i++ {
				lane = append(lane, i)
			}
			lanes = append(lanes, lane)
		}
	}
	return lanes
}
