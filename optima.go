package hgdl

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Classifier labels a stationary point by the sign pattern of its Hessian
// eigenvalues.
type Classifier uint8

const (
	// ClassUnknown marks a point whose Hessian was unavailable or whose
	// eigenvalues are too close to zero to read a sign from.
	ClassUnknown Classifier = iota
	// ClassMinimum marks all eigenvalues positive.
	ClassMinimum
	// ClassMaximum marks all eigenvalues negative.
	ClassMaximum
	// ClassSaddle marks mixed signs.
	ClassSaddle
)

// String implements fmt.Stringer.
func (c Classifier) String() string {
	switch c {
	case ClassMinimum:
		return "minimum"
	case ClassMaximum:
		return "maximum"
	case ClassSaddle:
		return "saddle"
	default:
		return "unknown"
	}
}

// eigZeroTol is the magnitude below which an eigenvalue is treated as
// numerically zero for classification.
const eigZeroTol = 1e-6

// Classify derives the label from Hessian eigenvalues. A nil slice or any
// eigenvalue with magnitude below eigZeroTol yields ClassUnknown.
func Classify(eigvals []float64) Classifier {
	if len(eigvals) == 0 {
		return ClassUnknown
	}
	pos, neg := 0, 0
	for _, l := range eigvals {
		switch {
		case math.Abs(l) < eigZeroTol || math.IsNaN(l):
			return ClassUnknown
		case l > 0:
			pos++
		default:
			neg++
		}
	}
	switch {
	case neg == 0:
		return ClassMinimum
	case pos == 0:
		return ClassMaximum
	default:
		return ClassSaddle
	}
}

// OptimumRecord is one stationary point held by the optima list.
type OptimumRecord struct {
	X        []float64
	F        float64
	GradNorm float64
	Eigvals  []float64 // nil when no Hessian was available
	Class    Classifier
	Success  bool
}

func (r OptimumRecord) clone() OptimumRecord {
	c := r
	c.X = append([]float64(nil), r.X...)
	if r.Eigvals != nil {
		c.Eigvals = append([]float64(nil), r.Eigvals...)
	}
	return c
}

// optimaStore is the bounded, sorted, deduplicated list of stationary
// points. It is owned by the engine coordinator; no method is safe for
// concurrent use.
type optimaStore struct {
	maxLen      int
	mergeRadius float64
	recs        []OptimumRecord
}

func newOptimaStore(maxLen int, mergeRadius float64) *optimaStore {
	return &optimaStore{maxLen: maxLen, mergeRadius: mergeRadius}
}

func (s *optimaStore) Len() int { return len(s.recs) }

// Merge inserts the successful candidates, skipping any within mergeRadius
// of a held record, keeping ascending order in F and dropping the worst
// tail beyond maxLen. It returns the number of records accepted.
func (s *optimaStore) Merge(cands []OptimumRecord) int {
	accepted := 0
	for _, c := range cands {
		if !c.Success || math.IsNaN(c.F) || math.IsInf(c.F, 0) {
			continue
		}
		if s.near(c.X) {
			continue
		}
		c = c.clone()
		c.Class = Classify(c.Eigvals)
		i := sort.Search(len(s.recs), func(i int) bool { return s.recs[i].F > c.F })
		s.recs = append(s.recs, OptimumRecord{})
		copy(s.recs[i+1:], s.recs[i:])
		s.recs[i] = c
		if len(s.recs) > s.maxLen {
			s.recs = s.recs[:s.maxLen]
		}
		accepted++
	}
	return accepted
}

func (s *optimaStore) near(x []float64) bool {
	for i := range s.recs {
		if len(s.recs[i].X) == len(x) && floats.Distance(s.recs[i].X, x, 2) <= s.mergeRadius {
			return true
		}
	}
	return false
}

// DeflationPoints returns a copy of every held location: all known
// stationary points repel future walkers.
func (s *optimaStore) DeflationPoints() [][]float64 {
	pts := make([][]float64, len(s.recs))
	for i := range s.recs {
		pts[i] = append([]float64(nil), s.recs[i].X...)
	}
	return pts
}

// TopK returns copies of the best k records (fewer when the list is
// shorter).
func (s *optimaStore) TopK(k int) []OptimumRecord {
	if k > len(s.recs) {
		k = len(s.recs)
	}
	out := make([]OptimumRecord, k)
	for i := 0; i < k; i++ {
		out[i] = s.recs[i].clone()
	}
	return out
}

// Snapshot returns an immutable copy of the list.
func (s *optimaStore) Snapshot() *Snapshot {
	return &Snapshot{Records: s.TopK(len(s.recs))}
}

// Snapshot is an immutable copy of the optima list published to the
// caller after each epoch.
type Snapshot struct {
	Records []OptimumRecord
}

// Top returns the best n records; n < 0 means all.
func (s *Snapshot) Top(n int) []OptimumRecord {
	if s == nil {
		return nil
	}
	if n < 0 || n > len(s.Records) {
		n = len(s.Records)
	}
	out := make([]OptimumRecord, n)
	for i := 0; i < n; i++ {
		out[i] = s.Records[i].clone()
	}
	return out
}

// Snapshot wire format: "HGDL", a version byte, a u32 record count, then
// per record u32 dim, dim x-floats, F, GradNorm, a classifier byte, a
// success byte, u32 eigenvalue count and the eigenvalues. All integers and
// float bits are little-endian.
var snapshotMagic = [4]byte{'H', 'G', 'D', 'L'}

const snapshotVersion = 1

// EncodeSnapshot serializes a snapshot into the stable binary format.
func EncodeSnapshot(s *Snapshot) []byte {
	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	buf.WriteByte(snapshotVersion)
	writeU32(&buf, uint32(len(s.Records)))
	for _, r := range s.Records {
		writeU32(&buf, uint32(len(r.X)))
		for _, v := range r.X {
			writeF64(&buf, v)
		}
		writeF64(&buf, r.F)
		writeF64(&buf, r.GradNorm)
		buf.WriteByte(byte(r.Class))
		if r.Success {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeU32(&buf, uint32(len(r.Eigvals)))
		for _, v := range r.Eigvals {
			writeF64(&buf, v)
		}
	}
	return buf.Bytes()
}

// DecodeSnapshot parses the binary format produced by EncodeSnapshot.
func DecodeSnapshot(b []byte) (*Snapshot, error) {
	rd := bytes.NewReader(b)
	var magic [4]byte
	if _, err := io.ReadFull(rd, magic[:]); err != nil || magic != snapshotMagic {
		return nil, errors.New("hgdl: not a snapshot")
	}
	ver, err := rd.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "hgdl: truncated snapshot")
	}
	if ver != snapshotVersion {
		return nil, errors.Errorf("hgdl: unsupported snapshot version %d", ver)
	}
	n, err := readU32(rd)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{Records: make([]OptimumRecord, 0, n)}
	for i := uint32(0); i < n; i++ {
		var r OptimumRecord
		dim, err := readU32(rd)
		if err != nil {
			return nil, err
		}
		r.X = make([]float64, dim)
		for j := range r.X {
			if r.X[j], err = readF64(rd); err != nil {
				return nil, err
			}
		}
		if r.F, err = readF64(rd); err != nil {
			return nil, err
		}
		if r.GradNorm, err = readF64(rd); err != nil {
			return nil, err
		}
		cb, err := rd.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "hgdl: truncated snapshot")
		}
		r.Class = Classifier(cb)
		sb, err := rd.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "hgdl: truncated snapshot")
		}
		r.Success = sb != 0
		ne, err := readU32(rd)
		if err != nil {
			return nil, err
		}
		if ne > 0 {
			r.Eigvals = make([]float64, ne)
			for j := range r.Eigvals {
				if r.Eigvals[j], err = readF64(rd); err != nil {
					return nil, err
				}
			}
		}
		s.Records = append(s.Records, r)
	}
	return s, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeF64(buf *bytes.Buffer, v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
}

func readU32(rd *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(rd, b[:]); err != nil {
		return 0, errors.Wrap(err, "hgdl: truncated snapshot")
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readF64(rd *bytes.Reader) (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(rd, b[:]); err != nil {
		return 0, errors.Wrap(err, "hgdl: truncated snapshot")
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:])), nil
}
