package resource

import "testing"

func TestCompute(t *testing.T) {
	tests := []struct {
		name        string
		cores       int
		ramMB       int
		wantWorkers int
		wantWriters int
		wantMemMB   int
	}{
		{
			name:  "typical 16-core 32GB host",
			cores: 16, ramMB: 32768,
			wantWorkers: 12, wantWriters: 2,
			// (32768-4096-2048)/12 = 2218 → clamped to ceiling
			wantMemMB: 1024,
		},
		{
			name:  "8-core 8GB host",
			cores: 8, ramMB: 8192,
			wantWorkers: 4, wantWriters: 2,
			// (8192-4096-2048)/4 = 512
			wantMemMB: 512,
		},
		{
			name:  "tiny 2-core host floors at one worker",
			cores: 2, ramMB: 4096,
			wantWorkers: 1, wantWriters: 2,
			wantMemMB: workerMemFloorMB,
		},
		{
			name:  "single core drops to one writer",
			cores: 1, ramMB: 2048,
			wantWorkers: 1, wantWriters: 1,
			wantMemMB: workerMemFloorMB,
		},
		{
			name:  "negative inputs clamp to minimums",
			cores: -4, ramMB: -100,
			wantWorkers: 1, wantWriters: 1,
			wantMemMB: workerMemFloorMB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Compute(tt.cores, tt.ramMB)
			if p.Workers != tt.wantWorkers {
				t.Errorf("Workers: got %d, want %d", p.Workers, tt.wantWorkers)
			}
			if p.Writers != tt.wantWriters {
				t.Errorf("Writers: got %d, want %d", p.Writers, tt.wantWriters)
			}
			if p.WorkerMemLimitMB != tt.wantMemMB {
				t.Errorf("WorkerMemLimitMB: got %d, want %d", p.WorkerMemLimitMB, tt.wantMemMB)
			}
		})
	}
}

func TestComputeMemoryNeverOutsideClamp(t *testing.T) {
	for cores := -1; cores <= 64; cores += 7 {
		for ramMB := -1; ramMB <= 1<<18; ramMB += 9973 {
			p := Compute(cores, ramMB)
			if p.WorkerMemLimitMB < workerMemFloorMB || p.WorkerMemLimitMB > workerMemCeilMB {
				t.Fatalf("Compute(%d, %d).WorkerMemLimitMB = %d outside [%d, %d]",
					cores, ramMB, p.WorkerMemLimitMB, workerMemFloorMB, workerMemCeilMB)
			}
			if p.Workers < 1 || p.Writers < 1 {
				t.Fatalf("Compute(%d, %d) produced empty pool: %+v", cores, ramMB, p)
			}
		}
	}
}

func TestDetectReturnsUsablePlan(t *testing.T) {
	p := Detect()
	if p.Workers < 1 || p.Writers < 1 || p.WorkerMemLimitMB < workerMemFloorMB {
		t.Errorf("Detect returned unusable plan: %+v", p)
	}
}
