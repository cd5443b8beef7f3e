package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/service"
)

var (
	askTopK      int
	askThreshold float64
	askJSON      bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().Float64Var(&askThreshold, "threshold", 0, "minimum similarity score (default from config)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, _, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	opts := service.Options{TopK: askTopK}
	if cmd.Flags().Changed("threshold") {
		threshold := askThreshold
		opts.MinScore = &threshold
	}
	ans, err := a.Service.Answer(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}
	if askJSON {
		return outputAnswerJSON(cmd, ans)
	}
	outputAnswerText(cmd, ans)
	return nil
}

func outputAnswerJSON(cmd *cobra.Command, ans domain.Answer) error {
	data, err := json.MarshalIndent(ans, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func outputAnswerText(cmd *cobra.Command, ans domain.Answer) {
	fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
	if len(ans.Citations) == 0 {
		return
	}
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Sources:")
	for _, c := range ans.Citations {
		fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s #%d (score %.2f)\n", c.Label, c.Source, c.Ordinal, c.Score)
	}
}
