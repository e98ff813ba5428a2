package compute_test

import (
	"context"
	"fmt"

	"github.com/gogpu/compute"
	"github.com/gogpu/compute/backend"
	"github.com/gogpu/compute/backend/software"
)

func Example_run() {
	dev, err := backend.Open(backend.BackendSoftware)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer dev.Close()

	input := compute.SuccessiveArray(8)
	out, err := compute.Run(context.Background(), dev, input, compute.DoubleKernel(8), compute.PlanFor(len(input), 8))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(out)
	// Output: [2 4 6 8 10 12 14 16]
}

func ExampleRunner_RunWithStats() {
	dev := software.New(software.WithWorkers(2))
	defer dev.Close()

	input := compute.SuccessiveArray(100)
	r := compute.NewRunner(compute.WithLabel("example"))
	out, stats, err := r.RunWithStats(context.Background(), dev, input, compute.DoubleKernel(64), compute.DispatchPlan{1, 1, 1})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(out[63], out[64], stats.Covered, stats.Elements)
	// Output: 128 0 64 100
}
