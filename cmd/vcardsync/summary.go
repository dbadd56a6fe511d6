package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/octobees/vcardsync/internal/service"
)

func printSummary(out io.Writer, s service.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", s.RunID)
	fmt.Fprintf(w, "query\t%s / %s\n", s.Query.Term, s.Query.Location)
	fmt.Fprintf(w, "api calls\t%d\n", s.Walk.Calls)
	fmt.Fprintf(w, "records\t%d of %d\n", s.Walk.Records, s.Walk.Total)
	if s.Walk.Stopped == service.StopPageError {
		fmt.Fprintf(w, "stopped early\t%v\n", s.Walk.PageErr)
	}
	fmt.Fprintf(w, "inserted\t%d\n", s.Decisions[service.DecisionInserted])
	fmt.Fprintf(w, "updated\t%d\n", s.Decisions[service.DecisionUpdated])
	fmt.Fprintf(w, "retained\t%d\n", s.Decisions[service.DecisionRetained])
	fmt.Fprintf(w, "repaired\t%d\n", s.Decisions[service.DecisionRepaired])
	fmt.Fprintf(w, "vcards downloaded\t%d\n", s.Downloads)
	fmt.Fprintf(w, "contacts\t%d (%d with email, %d without)\n", s.Snapshot.Total, s.Snapshot.WithEmail, s.Snapshot.WithoutEmail)
	fmt.Fprintf(w, "master\t%s\n", s.Snapshot.MasterPath)
	if s.Mirror != nil {
		fmt.Fprintf(w, "mirrored\t%d inserted, %d updated\n", s.Mirror.Inserted, s.Mirror.Updated)
	}
	w.Flush()
}
