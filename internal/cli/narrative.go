package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/narrative"
	"github.com/rcliao/narrative-market/internal/store"
)

func init() {
	root := &cobra.Command{
		Use:   "narrative",
		Short: "Manage narratives",
	}

	create := &cobra.Command{
		Use:   "create [description]",
		Short: "Create a narrative",
		Long:  "Create a narrative. The description can be a positional arg or piped via stdin.",
		Run:   runNarrativeCreate,
	}
	create.Flags().String("creator", "", "Creator wallet address (required)")
	create.Flags().StringP("name", "n", "", "Narrative name (required)")
	create.Flags().StringP("tags", "t", "", "Comma-separated tags")
	create.Flags().String("modality", "text", "Modality: text, image, video, audio, mixed, multimodal")
	create.MarkFlagRequired("creator")
	create.MarkFlagRequired("name")

	get := &cobra.Command{
		Use:   "get <narrative-id>",
		Short: "Show a narrative",
		Args:  cobra.ExactArgs(1),
		Run:   runNarrativeGet,
	}
	get.Flags().Bool("with-embedding", false, "Include the embedding vector")

	list := &cobra.Command{
		Use:   "list",
		Short: "List narratives",
		Run:   runNarrativeList,
	}
	list.Flags().String("creator", "", "Filter by creator")
	list.Flags().StringP("tag", "t", "", "Filter by tag")
	list.Flags().String("modality", "", "Filter by modality")
	list.Flags().String("status", "", "Filter by status")
	list.Flags().IntP("limit", "l", 20, "Max results")
	list.Flags().Int("offset", 0, "Skip this many results")

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search narratives by keyword",
		Long:  "Search narrative names, descriptions and tags for matching text.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runNarrativeSearch,
	}
	search.Flags().IntP("limit", "l", 20, "Max results")

	root.AddCommand(create, get, list, search)
	RootCmd.AddCommand(root)

	similar := &cobra.Command{
		Use:   "similar [text]",
		Short: "Find narratives similar to text",
		Run:   runSimilar,
	}
	similar.Flags().Float64("threshold", narrative.DefaultSimilarThreshold, "Minimum cosine similarity in [0, 1]")
	similar.Flags().IntP("limit", "l", narrative.DefaultSimilarLimit, "Max results")
	similar.Flags().StringP("tag", "t", "", "Filter by tag")
	RootCmd.AddCommand(similar)

	RootCmd.AddCommand(&cobra.Command{
		Use:   "embed [text]",
		Short: "Print the embedding of text",
		Run:   runEmbed,
	})
}

// textArg returns the positional args joined, or stdin when it is piped.
func textArg(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func runNarrativeCreate(cmd *cobra.Command, args []string) {
	creator, _ := cmd.Flags().GetString("creator")
	name, _ := cmd.Flags().GetString("name")
	tagsStr, _ := cmd.Flags().GetString("tags")
	modality, _ := cmd.Flags().GetString("modality")

	a := mustOpenApp()
	defer a.Close()

	n, err := a.directory.Create(cmd.Context(), narrative.CreateParams{
		Creator:     creator,
		Name:        name,
		Description: strings.TrimSpace(textArg(args)),
		Tags:        splitTags(tagsStr),
		Modality:    modality,
	})
	if err != nil {
		exitErr("create", err)
	}

	n.Embedding = nil
	output(n, func() {
		fmt.Printf("created narrative %d (%s)\n", n.ID, n.MetadataURI)
	})
}

func runNarrativeGet(cmd *cobra.Command, args []string) {
	id := parseNarrativeID(args[0])
	withEmbedding, _ := cmd.Flags().GetBool("with-embedding")

	a := mustOpenApp()
	defer a.Close()

	n, err := a.directory.Get(cmd.Context(), id)
	if err != nil {
		exitErr("get", err)
	}
	if !withEmbedding {
		n.Embedding = nil
	}
	output(n, func() {
		fmt.Printf("#%d %s [%s]\n%s\n", n.ID, n.Name, n.Status, n.Description)
	})
}

func runNarrativeList(cmd *cobra.Command, args []string) {
	creator, _ := cmd.Flags().GetString("creator")
	tag, _ := cmd.Flags().GetString("tag")
	modality, _ := cmd.Flags().GetString("modality")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	a := mustOpenApp()
	defer a.Close()

	list, err := a.directory.List(cmd.Context(), store.ListParams{
		Creator:  strings.ToLower(creator),
		Tag:      tag,
		Modality: modality,
		Status:   status,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		exitErr("list", err)
	}
	for i := range list {
		list[i].Embedding = nil
	}
	output(list, func() {
		for _, n := range list {
			fmt.Printf("%d\t%s\t%s\n", n.ID, n.Name, strings.Join(n.Tags, ","))
		}
	})
}

func runNarrativeSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	a := mustOpenApp()
	defer a.Close()

	results, err := a.directory.Search(cmd.Context(), strings.Join(args, " "), limit)
	if err != nil {
		exitErr("search", err)
	}
	for i := range results {
		results[i].Embedding = nil
	}
	output(results, func() {
		for _, n := range results {
			fmt.Printf("%d\t%s\n", n.ID, n.Name)
		}
	})
}

func runSimilar(cmd *cobra.Command, args []string) {
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	limit, _ := cmd.Flags().GetInt("limit")
	tag, _ := cmd.Flags().GetString("tag")

	text := textArg(args)
	if strings.TrimSpace(text) == "" {
		exitErr("similar", goerr.Wrap(errs.ErrInvalidInput, "text is required (positional arg or stdin)"))
	}

	a := mustOpenApp()
	defer a.Close()

	hits, err := a.directory.FindSimilar(cmd.Context(), narrative.SimilarParams{
		Text:      text,
		Threshold: threshold,
		Limit:     limit,
		Filter:    store.ListParams{Tag: tag},
	})
	if err != nil {
		exitErr("similar", err)
	}
	for i := range hits {
		hits[i].Narrative.Embedding = nil
	}
	output(hits, func() {
		for _, h := range hits {
			fmt.Printf("%.4f\t%d\t%s\n", h.Similarity, h.Narrative.ID, h.Narrative.Name)
		}
	})
}

func runEmbed(cmd *cobra.Command, args []string) {
	text := textArg(args)

	a := mustOpenApp()
	defer a.Close()

	emb, err := a.directory.Embed(cmd.Context(), text)
	if err != nil {
		exitErr("embed", err)
	}
	printJSON(emb)
}
