package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/transformer_reorganized/seq2seq/internal/envconfig"
	"github.com/transformer_reorganized/seq2seq/internal/utils"
	"github.com/transformer_reorganized/seq2seq/pkg/autodiff"
	"github.com/transformer_reorganized/seq2seq/pkg/core"
)

const padID = 0

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI builds the root command with the summary and forward subcommands.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "transformer",
		Short:         "Inspect encoder-decoder transformer models",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: envconfig.LogLevel()})))
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Build a model and print its parameters",
		Args:  cobra.NoArgs,
		RunE:  SummaryHandler,
	}
	summaryCmd.Flags().Bool("all", false, "List every tensor instead of grouping by component")

	forwardCmd := &cobra.Command{
		Use:   "forward",
		Short: "Run a forward pass on random token ids",
		Args:  cobra.NoArgs,
		RunE:  ForwardHandler,
	}
	forwardCmd.Flags().Int("batch", 2, "Number of random examples")
	forwardCmd.Flags().Bool("train", envconfig.Train(), "Keep dropout active")

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{
		envVars["SEQ2SEQ_DEBUG"],
		envVars["SEQ2SEQ_D_MODEL"],
		envVars["SEQ2SEQ_LAYERS"],
		envVars["SEQ2SEQ_HEADS"],
		envVars["SEQ2SEQ_D_FF"],
		envVars["SEQ2SEQ_DROPOUT"],
		envVars["SEQ2SEQ_SEED"],
		envVars["SEQ2SEQ_TRAIN"],
	}
	for _, cmd := range []*cobra.Command{summaryCmd, forwardCmd} {
		addModelFlags(cmd)
		appendEnvDocs(cmd, envs)
	}

	rootCmd.AddCommand(summaryCmd, forwardCmd)
	return rootCmd
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "JSON hyperparameter file")
	cmd.Flags().Int("src-vocab", 1000, "Source vocabulary size")
	cmd.Flags().Int("tgt-vocab", 1000, "Target vocabulary size")
	cmd.Flags().Int("src-len", 32, "Maximum source sequence length")
	cmd.Flags().Int("tgt-len", 32, "Maximum target sequence length")
	cmd.Flags().Uint("d-model", envconfig.DModel(), "Model width")
	cmd.Flags().Uint("layers", envconfig.Layers(), "Encoder and decoder blocks")
	cmd.Flags().Uint("heads", envconfig.Heads(), "Attention heads")
	cmd.Flags().Uint("d-ff", envconfig.FeedForward(), "Feed-forward hidden width")
	cmd.Flags().Float64("dropout", envconfig.Dropout(), "Dropout rate")
	cmd.Flags().Uint64("seed", envconfig.Seed(), "Initialization seed")
}

// configFromFlags starts from the --config file when given, otherwise from
// the flag defaults. Flags set on the command line always win.
func configFromFlags(cmd *cobra.Command) (core.Config, error) {
	flags := cmd.Flags()
	var cfg core.Config

	path, err := flags.GetString("config")
	if err != nil {
		return cfg, err
	}
	if path != "" {
		hp, err := core.LoadHyperParameters(path)
		if err != nil {
			return cfg, err
		}
		cfg = hp.ModelConfig()
		slog.Debug("loaded hyperparameters", "path", path)
	}
	use := func(name string) bool { return path == "" || flags.Changed(name) }

	ints := []struct {
		name string
		dst  *int
	}{
		{"src-vocab", &cfg.SrcVocabSize},
		{"tgt-vocab", &cfg.TgtVocabSize},
		{"src-len", &cfg.SrcSeqLen},
		{"tgt-len", &cfg.TgtSeqLen},
	}
	for _, f := range ints {
		if !use(f.name) {
			continue
		}
		if *f.dst, err = flags.GetInt(f.name); err != nil {
			return cfg, err
		}
	}
	uints := []struct {
		name string
		dst  *int
	}{
		{"d-model", &cfg.DModel},
		{"layers", &cfg.NumLayers},
		{"heads", &cfg.NumHeads},
		{"d-ff", &cfg.FFNHiddenDim},
	}
	for _, f := range uints {
		if !use(f.name) {
			continue
		}
		v, err := flags.GetUint(f.name)
		if err != nil {
			return cfg, err
		}
		*f.dst = int(v)
	}
	if use("dropout") {
		if cfg.Dropout, err = flags.GetFloat64("dropout"); err != nil {
			return cfg, err
		}
	}
	if use("seed") {
		if cfg.Seed, err = flags.GetUint64("seed"); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// SummaryHandler prints the parameter count of every component.
func SummaryHandler(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	model, err := core.BuildTransformer(cfg)
	if err != nil {
		return err
	}
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}

	var data [][]string
	if all {
		for _, p := range model.Parameters() {
			r, c := p.Tensor.Dims()
			shape := fmt.Sprintf("%d", c)
			if p.Tensor.Rank() > 1 {
				shape = fmt.Sprintf("%dx%d", r, c)
			}
			data = append(data, []string{p.Name, shape, strconv.Itoa(r * c)})
		}
	} else {
		for _, g := range groupParameters(model.Parameters()) {
			data = append(data, []string{g.name, strconv.Itoa(g.tensors), strconv.Itoa(g.count)})
		}
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	if all {
		table.SetHeader([]string{"NAME", "SHAPE", "PARAMS"})
	} else {
		table.SetHeader([]string{"COMPONENT", "TENSORS", "PARAMS"})
	}
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "\ntotal parameters: %d\n", model.NumParameters())
	return nil
}

// ForwardHandler runs encode, decode and project on random padded batches.
func ForwardHandler(cmd *cobra.Command, args []string) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	batchSize, err := cmd.Flags().GetInt("batch")
	if err != nil {
		return err
	}
	train, err := cmd.Flags().GetBool("train")
	if err != nil {
		return err
	}
	if batchSize <= 0 {
		return fmt.Errorf("batch must be positive, got %d", batchSize)
	}

	model, err := core.BuildTransformer(cfg)
	if err != nil {
		return err
	}
	mode := "train"
	if !train {
		model.Eval()
		mode = "eval"
	}

	rng := autodiff.NewRand(cfg.Seed + 1)
	srcIDs, err := utils.RandomSequences(rng, batchSize, cfg.SrcSeqLen, cfg.SrcVocabSize)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	tgtIDs, err := utils.RandomSequences(rng, batchSize, cfg.TgtSeqLen, cfg.TgtVocabSize)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	src, err := utils.NewBatch(srcIDs, cfg.SrcSeqLen, padID)
	if err != nil {
		return err
	}
	tgt, err := utils.NewBatch(tgtIDs, cfg.TgtSeqLen, padID)
	if err != nil {
		return err
	}

	srcMasks := make([]*core.Mask, batchSize)
	tgtMasks := make([]*core.Mask, batchSize)
	for i := range batchSize {
		if srcMasks[i], err = core.NewPaddingMask(src.Sequences[i], padID); err != nil {
			return err
		}
		if tgtMasks[i], err = core.NewDecoderMask(tgt.Sequences[i], padID); err != nil {
			return err
		}
	}

	slog.Debug("running forward pass", "batch", batchSize, "src_lengths", src.SequenceLengths, "tgt_lengths", tgt.SequenceLengths)
	out, err := model.Forward(src.Sequences, srcMasks, tgt.Sequences, tgtMasks)
	if err != nil {
		return err
	}

	b, n, v := out.Shape()
	fmt.Fprintf(cmd.OutOrStdout(), "mode: %s\n", mode)
	fmt.Fprintf(cmd.OutOrStdout(), "output shape: (%d, %d, %d)\n", b, n, v)

	var data [][]string
	for i, lp := range out {
		mass := 0.0
		for _, x := range lp.Row(0) {
			mass += math.Exp(x)
		}
		best, bestLP := 0, math.Inf(-1)
		for j, x := range lp.Row(tgt.SequenceLengths[i] - 1) {
			if x > bestLP {
				best, bestLP = j, x
			}
		}
		data = append(data, []string{
			strconv.Itoa(i),
			strconv.Itoa(src.SequenceLengths[i]),
			strconv.Itoa(tgt.SequenceLengths[i]),
			strconv.FormatFloat(mass, 'f', 6, 64),
			strconv.Itoa(best),
		})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"EXAMPLE", "SRC LEN", "TGT LEN", "MASS", "NEXT ID"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

type parameterGroup struct {
	name    string
	tensors int
	count   int
}

// groupParameters folds parameters into their top-level component and, for
// layer stacks, their block index.
func groupParameters(params []core.NamedParameter) []parameterGroup {
	var groups []parameterGroup
	index := make(map[string]int)
	for _, p := range params {
		key := componentOf(p.Name)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, parameterGroup{name: key})
		}
		r, c := p.Tensor.Dims()
		groups[i].tensors++
		groups[i].count += r * c
	}
	return groups
}

func componentOf(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) >= 3 && parts[1] == "layers" {
		return parts[0] + "." + parts[1] + "." + parts[2]
	}
	return parts[0]
}
