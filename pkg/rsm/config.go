package rsm

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is prepended to the envconfig key of every setting, e.g.
// RSM_WORKERS or RSM_CURVE_X0.
const EnvPrefix = "RSM"

type CurveConfig struct {
	X0     float64 `yaml:"x0" envconfig:"X0"`                           // column where the spectral lines are least bowed
	C      float64 `yaml:"c" envconfig:"C"`                             // curvature, in rows per column²
	HaRows int     `yaml:"ha_rows" envconfig:"HA_ROWS" validate:"gt=0"` // raw row where the Fe window starts
}

type Config struct {
	InputDir             string `yaml:"input_dir" envconfig:"INPUT_DIR" validate:"required"`
	OutputDir            string `yaml:"output_dir" envconfig:"OUTPUT_DIR" validate:"required"`
	SummaryDir           string `yaml:"summary_dir" envconfig:"SUMMARY_DIR" validate:"required"`
	DarkFile             string `yaml:"dark_file" envconfig:"DARK_FILE" validate:"required"`
	FlatFile             string `yaml:"flat_file" envconfig:"FLAT_FILE" validate:"required"`
	StandardSpectrumFile string `yaml:"standard_spectrum_file" envconfig:"STANDARD_SPECTRUM_FILE" validate:"required"`
	ColormapFile         string `yaml:"colormap_file" envconfig:"COLORMAP_FILE"`

	Workers      int `yaml:"workers" envconfig:"WORKERS" validate:"gte=0"` // 0 means all CPUs but ReserveCores
	ReserveCores int `yaml:"reserve_cores" envconfig:"RESERVE_CORES" validate:"gte=0"`

	StandardPosition int         `yaml:"standard_position" envconfig:"STANDARD_POSITION" validate:"gte=1"`
	FilterKernelSize int         `yaml:"filter_kernel_size" envconfig:"FILTER_KERNEL_SIZE" validate:"gte=1,odd"`
	Curve            CurveConfig `yaml:"curve" envconfig:"CURVE"`
	WavelengthShift  int         `yaml:"wavelength_shift" envconfig:"WAVELENGTH_SHIFT"`
	AbsorptionDegree int         `yaml:"absorption_degree" envconfig:"ABSORPTION_DEGREE" validate:"gte=0,lte=8"`
	MaxFlatOffset    int         `yaml:"max_flat_offset" envconfig:"MAX_FLAT_OFFSET" validate:"gte=0"`

	SummaryRowIndex int    `yaml:"summary_row_index" envconfig:"SUMMARY_ROW_INDEX" validate:"gte=0"`
	SummaryRowCount int    `yaml:"summary_row_count" envconfig:"SUMMARY_ROW_COUNT" validate:"gt=0"`
	OutputMode      string `yaml:"output_mode" envconfig:"OUTPUT_MODE" validate:"oneof=png fts"`

	MetricsFile string `yaml:"metrics_file" envconfig:"METRICS_FILE"`
	DumpGrids   bool   `yaml:"dump_grids" envconfig:"DUMP_GRIDS"`
	LogLevel    string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Verbosity   int    `yaml:"verbosity" envconfig:"VERBOSITY"`
}

func NewConfig() Config {
	return Config{
		ReserveCores:     4,
		FilterKernelSize: 3,
		WavelengthShift:  -2,
		AbsorptionDegree: 2,
		MaxFlatOffset:    20,
		SummaryRowCount:  1,
		OutputMode:       "png",
		LogLevel:         "info",
	}
}

func newConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

// LoadConfig builds a config from the defaults, then the yaml file (if
// filename isn't empty), then any RSM_* environment variables. It does
// not validate; callers apply their own overrides and then call Validate.
func LoadConfig(filename string) (Config, error) {
	c := NewConfig()
	if filename != "" {
		b, err := os.ReadFile(filename)
		if err != nil {
			return c, fmt.Errorf("%w: read config: %w", ErrSetup, err)
		}
		if c, err = newConfigFromYaml(b); err != nil {
			return c, fmt.Errorf("%w: parse config '%s': %w", ErrSetup, filename, err)
		}
	}

	// No `default` tags, so envconfig only touches fields whose variable is set
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return c, fmt.Errorf("%w: env: %w", ErrSetup, err)
	}
	return c, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("odd", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 1
	}); err != nil {
		panic(err)
	}
	return v
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: config: %w", ErrSetup, err)
	}
	return nil
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		log.Fatalf("Can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// EffectiveWorkers is the size of the worker pool: Workers if set,
// otherwise the CPU count less ReserveCores, and never less than 1.
func (c Config) EffectiveWorkers() int {
	n := c.Workers
	if n <= 0 {
		n = runtime.NumCPU() - c.ReserveCores
	}
	if n < 1 {
		n = 1
	}
	return n
}
