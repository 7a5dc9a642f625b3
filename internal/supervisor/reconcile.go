package supervisor

// Source names the authority whose value won a reconciliation. The
// priority order is OS process, then the in-process flag, then the
// persisted flag; with all three observable the OS always drives.
type Source string

const SourceOSProcess Source = "os_process"

// Target names a running flag that reconciliation wants rewritten.
type Target string

const (
	TargetMemory Target = "memory"
	TargetStore  Target = "store"
)

// Correction is one flag override toward the ground truth.
type Correction struct {
	Target  Target
	Running bool
}

// Report is the outcome of one three-way reconciliation.
type Report struct {
	Running     bool // reconciled truth
	Source      Source
	Consistent  bool
	Corrections []Correction
}

// Strings flattens the corrections for logs and drift errors.
func (r Report) Strings() []string {
	out := make([]string, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		state := "stopped"
		if c.Running {
			state = "running"
		}
		out = append(out, string(c.Target)+"->"+state)
	}
	return out
}

// Reconcile compares the three running indicators and returns the
// corrections that align the flags with the OS process. Pure; callers
// apply the corrections to whatever they own.
func Reconcile(osAlive, memRunning, storeRunning bool) Report {
	r := Report{Running: osAlive, Source: SourceOSProcess}
	if memRunning != osAlive {
		r.Corrections = append(r.Corrections, Correction{Target: TargetMemory, Running: osAlive})
	}
	if storeRunning != osAlive {
		r.Corrections = append(r.Corrections, Correction{Target: TargetStore, Running: osAlive})
	}
	r.Consistent = len(r.Corrections) == 0
	return r
}
