package run

// Hyperparameters holds the training settings passed through to the trainer.
type Hyperparameters struct {
	Epochs       int     `json:"epochs" yaml:"epochs"`
	Batch        int     `json:"batch" yaml:"batch"` // -1 means auto-sizing
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Optimizer    string  `json:"optimizer,omitempty" yaml:"optimizer,omitempty"`
	ImageSize    int     `json:"image_size,omitempty" yaml:"image_size,omitempty"`
}

// BatchAuto is the batch-size sentinel that defers sizing to the trainer.
const BatchAuto = -1

// Descriptor is the immutable configuration of one training job.
// Built once when the fold is scheduled and never mutated afterwards.
type Descriptor struct {
	RunID  string `json:"run_id"`
	FoldID int    `json:"fold_id"`
	Seed   int64  `json:"seed"`

	// DataConfig is the dataset.yaml the trainer consumes; TrainList and
	// ValList are the materialized image lists it references.
	DataConfig string `json:"data_config"`
	TrainList  string `json:"train_list"`
	ValList    string `json:"val_list"`

	OutputDir string          `json:"output_dir"`
	Hyper     Hyperparameters `json:"hyperparameters"`
}
