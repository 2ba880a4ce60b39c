package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"medledger/internal/domain"
)

func renderChainStatus(w io.Writer, status domain.ChainStatus) {
	if status.Valid {
		fmt.Fprint(w, pterm.Success.Sprintfln("chain valid: %d blocks", status.Length))
		return
	}
	index := int64(-1)
	if status.FirstBadIndex != nil {
		index = *status.FirstBadIndex
	}
	fmt.Fprint(w, pterm.Error.Sprintfln("chain invalid at block %d of %d: %s", index, status.Length, status.Reason))
}

func renderInfo(w io.Writer, backend string, info domain.LedgerInfo) error {
	table, err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"FIELD", "VALUE"},
		{"backend", backend},
		{"blocks", strconv.Itoa(info.TotalBlocks)},
		{"valid", strconv.FormatBool(info.IsValid)},
		{"difficulty", strconv.Itoa(info.Difficulty)},
		{"tip index", strconv.FormatInt(info.LatestBlock.Index, 10)},
		{"tip hash", info.LatestBlock.Hash},
		{"tip time", formatTime(info.LatestBlock.Timestamp)},
	}).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, table)
	return nil
}

func renderHistory(w io.Writer, history domain.RecordHistory) error {
	fmt.Fprint(w, pterm.DefaultSection.Sprintf("Record %s", history.RecordID))

	blocks := pterm.TableData{{"INDEX", "KIND", "TIME", "HASH", "DETAILS"}}
	for _, b := range history.Blocks {
		blocks = append(blocks, []string{
			strconv.FormatInt(b.Index, 10),
			string(b.Payload.Kind()),
			formatTime(b.Timestamp),
			b.Hash,
			eventDetails(b.Payload),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(blocks).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d block(s)\n%s\n", history.TotalBlocks, table)

	txs := pterm.TableData{{"ID", "ACTION", "STATUS", "INITIATOR", "BLOCK", "CREATED"}}
	for _, tx := range history.Transactions {
		txs = append(txs, []string{
			tx.ID,
			string(tx.Action),
			string(tx.Status),
			tx.InitiatorID,
			strconv.FormatInt(tx.BlockNumber, 10),
			formatTime(tx.CreatedAt),
		})
	}
	table, err = pterm.DefaultTable.WithHasHeader().WithData(txs).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d transaction(s)\n%s\n", history.TotalTransactions, table)
	return nil
}

func eventDetails(e domain.Event) string {
	fields := e.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "record_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
