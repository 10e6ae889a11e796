package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/services"
)

func newConversationsCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List your conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			auth, err := flags.resolveAuth(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			api, err := services.NewAPIClient(cfg.API.BaseURL, auth, apiTimeout(cfg))
			if err != nil {
				return err
			}

			list := services.NewConversationList(api, apiTimeout(cfg))
			if err := list.LoadConversations(cmd.Context(), false); err != nil {
				return err
			}
			state := list.State()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(state.Conversations)
			}
			if state.View() == services.ViewEmpty {
				fmt.Fprintln(out, mutedStyle.Render("No conversations yet."))
				return nil
			}
			for _, c := range state.Conversations {
				fmt.Fprintln(out, formatConversation(c))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newContactCmd(flags *rootFlags) *cobra.Command {
	var storeID, orderID, productID int64
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Find or create the conversation with a store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			auth, err := flags.resolveAuth(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			api, err := services.NewAPIClient(cfg.API.BaseURL, auth, apiTimeout(cfg))
			if err != nil {
				return err
			}

			req := models.FindOrCreateRequest{StoreID: storeID}
			if cmd.Flags().Changed("order") {
				req.OrderID = &orderID
			}
			if cmd.Flags().Changed("product") {
				req.ProductID = &productID
			}
			convCtx, err := services.NewConversationList(api, apiTimeout(cfg)).FindOrCreate(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(convCtx)
		},
	}
	cmd.Flags().Int64Var(&storeID, "store", 0, "store id (required)")
	cmd.Flags().Int64Var(&orderID, "order", 0, "order the conversation is about")
	cmd.Flags().Int64Var(&productID, "product", 0, "product the conversation is about")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}
