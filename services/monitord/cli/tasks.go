package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show the open task backlog and per-type counts",
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().Int("limit", 50, "max open tasks to list")
	bindFlag("tasks_limit", tasksCmd.Flags(), "limit")
}

func runTasks(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, viper.GetString("postgres_dsn"))
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	repo := postgres.NewTaskRepository(pool)

	open, err := repo.ListOpen(ctx, viper.GetInt("tasks_limit"))
	if err != nil {
		return fmt.Errorf("list open tasks: %w", err)
	}
	counts, err := repo.CountByTypeStatus(ctx)
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tRETRIES\tREF\tCREATED")
	for _, t := range open {
		ref := "-"
		switch {
		case t.BlockID != nil:
			ref = fmt.Sprintf("block %d", *t.BlockID)
		case t.ShowDate != nil:
			ref = domain.ShowDateKey(*t.ShowDate)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\t%s\t%s\n",
			t.ID, t.Type, t.Status, t.RetryCount, t.MaxRetries, ref,
			t.CreatedAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tSTATUS\tCOUNT")
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%s\t%d\n", c.Type, c.Status, c.Count)
	}
	return w.Flush()
}
