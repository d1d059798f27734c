package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/portal-project/portal/internal/network"
)

// RenderStatus prints a ping result as a two-column table.
func RenderStatus(w io.Writer, res *PingResult) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Field", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	st := res.Status
	tw.Append([]string{"Address", res.Address})
	tw.Append([]string{"Version", fmt.Sprintf("%s (%d)", st.Version.Name, st.Version.Protocol)})
	tw.Append([]string{"Players", fmt.Sprintf("%d/%d", st.Players.Online, st.Players.Max)})
	tw.Append([]string{"MOTD", st.Description.Text})
	if len(st.Players.Sample) > 0 {
		names := make([]string, 0, len(st.Players.Sample))
		for _, p := range st.Players.Sample {
			names = append(names, p.Name)
		}
		tw.Append([]string{"Sample", strings.Join(names, ", ")})
	}
	tw.Append([]string{"Favicon", yesNo(st.Favicon != "")})
	tw.Append([]string{"Latency", res.Latency.Round(time.Millisecond).String()})
	tw.Render()
}

// RenderConnections prints the live connections reported by the admin API.
func RenderConnections(w io.Writer, conns []network.Info) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"ID", "Remote", "State", "Version", "Player", "Brand", "Transfer", "Age"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, c := range conns {
		player := c.Username
		if player == "" {
			player = "-"
		}
		transfer := c.TransferTarget
		if transfer == "" && c.FromTransfer {
			transfer = "inbound"
		}
		if transfer == "" {
			transfer = "-"
		}
		tw.Append([]string{
			fmt.Sprintf("%d", c.ID),
			c.Remote,
			c.State,
			c.Version,
			player,
			c.Brand,
			transfer,
			time.Since(c.ConnectedAt).Round(time.Second).String(),
		})
	}
	tw.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
