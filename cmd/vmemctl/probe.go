package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/behnood-eghbali/vmemkit/vmem"
)

func init() {
	rootCmd.AddCommand(newProbeCmd())
}

type probeStep struct {
	Step   string `json:"step"`
	Detail string `json:"detail,omitempty"`
	OK     bool   `json:"ok"`
}

type probeReport struct {
	Backend string      `json:"backend"`
	Steps   []probeStep `json:"steps"`
	Passed  bool        `json:"passed"`
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run a reserve/carve/map/decommit exercise",
		Long: `Walks the provider through its full surface: a plain allocation, an
address-space reservation, two disjoint sub-reservation carves, a
fixed mapping inside a carve, permission changes, a decommit and the
teardown path. Reports each step.

Example:
  vmemctl probe
  vmemctl probe --backend host --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe()
		},
	}
}

func runProbe() error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	p, err := vmem.New(k)
	if err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}

	report := probeReport{Backend: k.Name(), Passed: true}
	step := func(name string, err error, detail string) {
		ok := err == nil
		if !ok {
			report.Passed = false
			detail = err.Error()
		}
		report.Steps = append(report.Steps, probeStep{Step: name, Detail: detail, OK: ok})
		printVerbose("  %-28s %v %s\n", name, ok, detail)
	}

	ps := p.AllocatePageSize()

	// Plain allocation round trip.
	addr, err := p.Allocate(0, 4*ps, ps, vmem.ReadWrite)
	step("allocate", err, fmt.Sprintf("addr=%#x", addr))
	if err == nil {
		step("set-permissions", p.SetPermissions(addr, 4*ps, vmem.Read), "read-only")
		step("decommit-pages", p.DecommitPages(addr, 4*ps), "")
		step("free", p.Free(addr, 4*ps), "")
	}

	// Reservation lifecycle.
	res, err := p.CreateAddressSpaceReservation(0, 16*ps, ps, vmem.ReadWrite)
	step("create-reservation", err, reservationDetail(res))
	if err == nil {
		subA, errA := res.CreateSubReservation(res.Base(), 4*ps, vmem.ReadWrite)
		step("carve-sub-a", errA, reservationDetail(subA))
		subB, errB := res.CreateSubReservation(res.Base()+8*ps, 4*ps, vmem.ReadWrite)
		step("carve-sub-b", errB, reservationDetail(subB))

		if errA == nil {
			errMap := subA.Allocate(subA.Base(), 2*ps, vmem.ReadWrite)
			step("map-in-sub-a", errMap, fmt.Sprintf("addr=%#x", subA.Base()))
			if errMap == nil {
				step("discard-in-sub-a", subA.DiscardSystemPages(subA.Base(), 2*ps), "")
				step("free-in-sub-a", subA.Free(subA.Base(), 2*ps), "")
			}
			step("free-sub-a", res.FreeSubReservation(subA), "")
		}
		if errB == nil {
			step("free-sub-b", res.FreeSubReservation(subB), "")
		}
		step("free-reservation", p.FreeAddressSpaceReservation(res), "")
	}

	if jsonOut {
		return printJSON(report)
	}
	printInfo("Probe on backend %s:\n", report.Backend)
	for _, s := range report.Steps {
		status := "ok"
		if !s.OK {
			status = "FAIL"
		}
		printInfo("  %-28s %-4s %s\n", s.Step, status, s.Detail)
	}
	if !report.Passed {
		return fmt.Errorf("probe failed")
	}
	printInfo("All steps passed.\n")
	return nil
}

func reservationDetail(r *vmem.AddressSpaceReservation) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("base=%#x size=%#x", r.Base(), r.Size())
}
