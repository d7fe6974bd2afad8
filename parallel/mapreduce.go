package parallel

import (
	"context"
	"encoding/json"
	"fmt"
)

// Job is the batch pattern: partition a sequence into contiguous chunks,
// apply Map to each chunk through the backend's executor, collect partials in
// chunk order, and apply Reduce once. It is a surface over the same futures
// core the incremental API uses, with a stricter failure policy: any chunk
// failure aborts the whole job.
type Job struct {
	Backend Backend

	// Map receives one encoded chunk (see EncodeChunk) and returns one
	// partial result. For a cluster backend this is typically a wrapped
	// registered task.
	Map TaskFunc

	// Reduce combines the partial results, which arrive in chunk order.
	Reduce func(ctx context.Context, partials [][]byte) ([]byte, error)

	// NumChunks caps the partition count. Defaults to the backend's worker
	// count; never exceeds len(inputs).
	NumChunks int
}

// Run executes the job over inputs and returns the reduced result.
func (j *Job) Run(ctx context.Context, inputs [][]byte) ([]byte, error) {
	if j.Backend == nil || j.Map == nil || j.Reduce == nil {
		return nil, fmt.Errorf("parallel: job requires a backend, a map function, and a reduce function")
	}

	chunks := partition(inputs, j.chunkCount(len(inputs)))
	payloads := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		payload, err := EncodeChunk(chunk)
		if err != nil {
			return nil, &JobError{Chunk: i, Err: err}
		}
		payloads[i] = payload
	}

	exec, err := j.Backend.Executor()
	if err != nil {
		return nil, err
	}
	defer exec.Close()

	futures := exec.Map(j.Map, payloads)

	// Collect in chunk order, not completion order.
	partials := make([][]byte, len(futures))
	for i, f := range futures {
		value, err := f.Result(ctx)
		if err != nil {
			return nil, &JobError{Chunk: i, Err: err}
		}
		partials[i] = value
	}
	return j.Reduce(ctx, partials)
}

func (j *Job) chunkCount(inputs int) int {
	n := j.NumChunks
	if n <= 0 {
		n = j.Backend.NumWorkers()
	}
	if n > inputs {
		n = inputs
	}
	if n < 1 {
		n = 1
	}
	return n
}

// partition splits inputs into n contiguous chunks of near-equal size,
// preserving the original order within and across chunks.
func partition(inputs [][]byte, n int) [][][]byte {
	if len(inputs) == 0 {
		return nil
	}
	chunks := make([][][]byte, 0, n)
	base := len(inputs) / n
	rest := len(inputs) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rest {
			size++
		}
		chunks = append(chunks, inputs[start:start+size])
		start += size
	}
	return chunks
}

// EncodeChunk packs a chunk of raw inputs for transport to a map task.
func EncodeChunk(chunk [][]byte) ([]byte, error) {
	return json.Marshal(chunk)
}

// DecodeChunk unpacks a chunk inside a map task.
func DecodeChunk(payload []byte) ([][]byte, error) {
	var chunk [][]byte
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, fmt.Errorf("parallel: decode chunk: %w", err)
	}
	return chunk, nil
}

// MapReduce is the typed convenience surface over Job for callers whose map
// and reduce functions live in this process. Values cross the executor as
// JSON.
func MapReduce[T, R any](
	ctx context.Context,
	backend Backend,
	inputs []T,
	mapFn func(ctx context.Context, chunk []T) (R, error),
	reduceFn func(partials []R) (R, error),
) (R, error) {
	var zero R

	encoded := make([][]byte, len(inputs))
	for i, in := range inputs {
		body, err := json.Marshal(in)
		if err != nil {
			return zero, &JobError{Chunk: 0, Err: err}
		}
		encoded[i] = body
	}

	job := &Job{
		Backend: backend,
		Map: func(ctx context.Context, payload []byte) ([]byte, error) {
			raw, err := DecodeChunk(payload)
			if err != nil {
				return nil, err
			}
			chunk := make([]T, len(raw))
			for i, body := range raw {
				if err := json.Unmarshal(body, &chunk[i]); err != nil {
					return nil, err
				}
			}
			out, err := mapFn(ctx, chunk)
			if err != nil {
				return nil, err
			}
			return json.Marshal(out)
		},
		Reduce: func(_ context.Context, rawPartials [][]byte) ([]byte, error) {
			partials := make([]R, len(rawPartials))
			for i, body := range rawPartials {
				if err := json.Unmarshal(body, &partials[i]); err != nil {
					return nil, err
				}
			}
			out, err := reduceFn(partials)
			if err != nil {
				return nil, err
			}
			return json.Marshal(out)
		},
	}

	result, err := job.Run(ctx, encoded)
	if err != nil {
		return zero, err
	}
	var out R
	if err := json.Unmarshal(result, &out); err != nil {
		return zero, err
	}
	return out, nil
}
