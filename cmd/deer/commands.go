package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/codec"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the storage schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := ctx.ensureDeer(cmd.Context())
			if err != nil {
				return err
			}
			if err := d.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date")
			return nil
		},
	}
}

type writeOutput struct {
	ID       deer.Id          `json:"id"`
	Type     deer.ContentType `json:"type"`
	Written  bool             `json:"written"`
	Previous bool             `json:"had_previous"`
}

func newWriteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "write <file>",
		Short: "Write content documents from a JSON file",
		Long:  "Write one content document, or an array of them, in the form {\"type\": ..., \"content\": {...}}. Use - for stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			contents, err := codec.DecodeDocuments(data)
			if err != nil {
				return err
			}
			d, err := ctx.ensureDeer(cmd.Context())
			if err != nil {
				return err
			}

			out := make([]writeOutput, 0, len(contents))
			for _, content := range contents {
				result, err := d.Content.WriteContent(cmd.Context(), content)
				if err != nil {
					return err
				}
				out = append(out, writeOutput{
					ID:       content.Base().ID,
					Type:     content.Type(),
					Written:  result.Written,
					Previous: result.HasPrevious(),
				})
			}
			return writeJSON(cmd, out)
		},
	}
}

type broadcastInput struct {
	Item      deer.ItemRef     `json:"item"`
	Container *deer.ContentRef `json:"container,omitempty"`
	Series    *deer.SeriesRef  `json:"series,omitempty"`
	Broadcast deer.Broadcast   `json:"broadcast"`
}

func newWriteBroadcastCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "write-broadcast <file>",
		Short: "Add a broadcast to a stored item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var in broadcastInput
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("parse broadcast: %w", err)
			}
			d, err := ctx.ensureDeer(cmd.Context())
			if err != nil {
				return err
			}
			if err := d.Content.WriteBroadcast(cmd.Context(), in.Item, in.Container, in.Series, in.Broadcast); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote broadcast %s on %s\n", deer.BroadcastKey(in.Broadcast), in.Item.ID)
			return nil
		},
	}
}

func newUpdateContentCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "update-content <id>...",
		Short: "Rewrite content into its equivalent set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			d, err := ctx.ensureDeer(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := d.Equivalents.UpdateContent(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", id)
			}
			return nil
		},
	}
}

func newUpdateEquivalencesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "update-equivalences <file>",
		Short: "Apply an equivalence graph update from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var update deer.EquivalenceGraphUpdate
			if err := json.Unmarshal(data, &update); err != nil {
				return fmt.Errorf("parse graph update: %w", err)
			}
			d, err := ctx.ensureDeer(cmd.Context())
			if err != nil {
				return err
			}
			// graphs first, so stale content resolves its new graph
			if err := d.Graphs.Apply(cmd.Context(), update); err != nil {
				return err
			}
			if err := d.Equivalents.UpdateEquivalences(cmd.Context(), update); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated graph %s\n", update.Updated.ID)
			return nil
		},
	}
}

type resolvedSet struct {
	SetID   deer.Id          `json:"set_id"`
	Content []codec.Document `json:"content"`
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var sources []string
	var annotations []string

	cmd := &cobra.Command{
		Use:   "resolve <id>...",
		Short: "Print the equivalent sets of the given ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			d, err := ctx.ensureDeer(cmd.Context())
			if err != nil {
				return err
			}

			var publishers []deer.Publisher
			for _, s := range sources {
				publishers = append(publishers, deer.Publisher(s))
			}
			var selected []deer.Annotation
			if cmd.Flags().Changed("annotation") {
				selected = make([]deer.Annotation, 0, len(annotations))
				for _, a := range annotations {
					selected = append(selected, deer.Annotation(a))
				}
			}

			sets, err := d.Equivalents.ResolveIDs(cmd.Context(), ids, publishers, selected)
			if err != nil {
				return err
			}
			out := make(map[string]resolvedSet, len(sets))
			for id, set := range sets {
				rs := resolvedSet{SetID: set.ID, Content: []codec.Document{}}
				for _, c := range set.Content {
					doc, err := codec.EncodeDocument(c)
					if err != nil {
						return err
					}
					rs.Content = append(rs.Content, doc)
				}
				out[id.String()] = rs
			}
			return writeJSON(cmd, out)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "Only include content from these sources")
	cmd.Flags().StringSliceVar(&annotations, "annotation", nil, "Projections to hydrate (upcoming_content, available_content, sub_item_summaries)")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func parseIDs(args []string) ([]deer.Id, error) {
	ids := make([]deer.Id, 0, len(args))
	for _, arg := range args {
		id, err := deer.ParseId(strings.TrimSpace(arg))
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
