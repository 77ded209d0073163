// cmd_convert.go - convert Command: LoRA mergen und GGUF exportieren
// Hauptfunktionen: ConvertHandler, newConvertCmd
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bidyaai/bidya/convert"
	"github.com/bidyaai/bidya/envconfig"
)

// ConvertHandler - Fuehrt den Export mit den Flag-Werten aus
func ConvertHandler(cmd *cobra.Command, args []string) error {
	var opts convert.Options
	opts.LoraDir, _ = cmd.Flags().GetString("lora_ckpt")
	opts.OutputDir, _ = cmd.Flags().GetString("output_dir")
	opts.BaseID, _ = cmd.Flags().GetString("base_id")
	opts.Revision, _ = cmd.Flags().GetString("revision")
	opts.PrefillSeqLens, _ = cmd.Flags().GetIntSlice("prefill_seq_lens")
	opts.KVCacheMaxLen, _ = cmd.Flags().GetInt("kv_cache_max_len")
	opts.Quantize, _ = cmd.Flags().GetString("quantize")
	opts.OutputName, _ = cmd.Flags().GetString("output_name")
	opts.SaveMerged, _ = cmd.Flags().GetBool("save_merged")
	opts.Hub = hubClient()

	result, err := convert.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	m := result.Manifest
	w := cmd.OutOrStdout()

	table := newTable(w)
	table.AppendBulk([][]string{
		{"file", result.Path},
		{"size", humanBytes(m.Size)},
		{"xxh3", m.XXH3},
		{"file type", m.FileType},
		{"tensors", fmt.Sprint(m.Tensors)},
		{"signatures", strings.Join(m.Signatures, ", ")},
		{"tokenizer", strings.Join(result.Tokenizer, ", ")},
	})
	if result.Merged != "" {
		table.Append([]string{"merged", result.Merged})
	}
	table.Render()

	fmt.Fprintln(w, "Done →", result.Path)
	return nil
}

// newConvertCmd - Erstellt den convert Command
func newConvertCmd() *cobra.Command {
	convertCmd := &cobra.Command{
		Use:   "convert",
		Short: "Merge a LoRA adapter into Gemma 3n and export a quantized GGUF",
		Args:  cobra.NoArgs,
		RunE:  ConvertHandler,
	}

	convertCmd.Flags().String("lora_ckpt", "", "LoRA adapter directory (adapter_config.json and weights)")
	convertCmd.Flags().String("output_dir", "", "Output directory")
	convertCmd.Flags().String("base_id", envconfig.BaseID(), "Base model id or local directory")
	convertCmd.Flags().String("revision", "", "Base model revision (default \"main\")")
	convertCmd.Flags().IntSlice("prefill_seq_lens", []int{convert.DefaultPrefillSeqLen}, "Prefill lengths to export")
	convertCmd.Flags().Int("kv_cache_max_len", convert.DefaultKVCacheMaxLen, "Maximum KV cache length")
	convertCmd.Flags().String("quantize", convert.DefaultQuantize, "Weight type (q4_0, q8_0, f16, bf16, f32)")
	convertCmd.Flags().String("output_name", convert.DefaultOutputName, "File name of the exported model")
	convertCmd.Flags().Bool("save_merged", false, "Also save the merged weights as "+convert.MergedFile)

	convertCmd.MarkFlagRequired("lora_ckpt")  //nolint:errcheck
	convertCmd.MarkFlagRequired("output_dir") //nolint:errcheck

	return convertCmd
}
