package ops

import (
	"cairn.dev/cairn/pkg/config"
	"github.com/pkg/errors"
)

// SourceSum is one origin's computed sum.
type SourceSum struct {
	Entity string
	Algo   string
	Sum    []byte
}

func (s SourceSum) String() string {
	return s.Entity + " " + renderSum(s.Algo, s.Sum)
}

// SourceVerify checks and records source sums without staging
// anything.
type SourceVerify struct {
	common

	cfg *config.Config
}

func NewSourceVerify(cfg *config.Config) *SourceVerify {
	return &SourceVerify{cfg: cfg}
}

func (s *SourceVerify) stage() *SourceStage {
	ss := &SourceStage{cfg: s.cfg}
	ss.common = s.common
	return ss
}

// Verify resolves every origin of pkg locally and compares sums,
// returning the first problem found.
func (s *SourceVerify) Verify(pkg *ScriptPackage) error {
	st := s.stage()

	for _, o := range pkg.Origins() {
		res, err := st.resolve(pkg.Entry(), o)
		if err != nil {
			return err
		}

		if o.SumType == "" {
			return errors.Wrapf(ErrSumFormat, "no sum recorded for %s", o.Entity())
		}

		err = st.verify(o, res)
		if err != nil {
			return err
		}

		s.L().Debug("source verified", "entity", o.Entity(), "sum", renderSum(o.SumType, o.Sum))
	}

	return nil
}

// Sums computes the current sum of every origin from its local
// materialization. Files keep their declared algo, trees always sum
// with b2.
func (s *SourceVerify) Sums(pkg *ScriptPackage) ([]SourceSum, error) {
	st := s.stage()

	var out []SourceSum

	for _, o := range pkg.Origins() {
		res, err := st.resolve(pkg.Entry(), o)
		if err != nil {
			return nil, err
		}

		var sum []byte

		if res.dir {
			sum, err = hashTree(s.L(), res.path)
		} else {
			sum, err = hashFile(o.SumType, res.path)
		}

		if err != nil {
			return nil, err
		}

		algo := o.SumType
		if algo == "" {
			algo = "b2"
		}

		out = append(out, SourceSum{
			Entity: o.Entity(),
			Algo:   algo,
			Sum:    sum,
		})
	}

	return out, nil
}

// Record computes sums for pkg's origins and writes them into the
// script's sumfile, so a package authored without sums can be loaded
// leniently once, recorded, and verified forever after.
func (s *SourceVerify) Record(pkg *ScriptPackage) error {
	ent := pkg.Entry()
	if ent == nil {
		return errors.New("package has no repo entry to record sums in")
	}

	sums, err := s.Sums(pkg)
	if err != nil {
		return err
	}

	sf, err := ent.Sumfile()
	if err != nil {
		return err
	}

	for _, ss := range sums {
		rendered, err := sf.Add(ss.Entity, ss.Algo, ss.Sum)
		if err != nil {
			return err
		}

		s.L().Info("recorded sum", "entity", ss.Entity, "sum", rendered)
	}

	return ent.SaveSumfile(sf)
}
