package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/born-ml/deeplab/internal/backend/cpu"
	"github.com/born-ml/deeplab/internal/config"
	"github.com/born-ml/deeplab/internal/model"
	"github.com/born-ml/deeplab/internal/nn"
)

func newSummaryCmd() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the network layout and parameter counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return summaryHandler(cmd, cfg)
		},
	}
	addModelFlags(cmd, &cfg)
	return cmd
}

type summaryRow struct {
	name     string
	blocks   int
	stride   int
	dilation int
	params   int
}

func summaryHandler(cmd *cobra.Command, cfg config.Config) error {
	mc := modelConfig(cfg)
	backend := cpu.New()
	m, err := model.New(mc, backend)
	if err != nil {
		return err
	}

	rows := summarize(m)
	p := message.NewPrinter(language.English)

	var data [][]string
	for _, r := range rows {
		blocks, stride, dilation := "", "", ""
		if r.blocks > 0 {
			blocks = strconv.Itoa(r.blocks)
			stride = strconv.Itoa(r.stride)
			dilation = strconv.Itoa(r.dilation)
		}
		data = append(data, []string{r.name, blocks, stride, dilation, p.Sprintf("%d", r.params)})
	}

	rates := m.ASPP().Rates()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "DeepLabv3-ResNet%d, %d classes, output stride %d, ASPP rates %v\n\n",
		mc.Depth, mc.NumClasses, mc.OutputStride, rates)

	table := newTable(w, "MODULE", "BLOCKS", "STRIDE", "DILATION", "PARAMETERS")
	table.AppendBulk(data)
	table.Append([]string{"total", "", "", "", p.Sprintf("%d", nn.NumParameters[*cpu.CPUBackend](m))})
	table.Render()
	return nil
}

// summarize lists the stem, the four residual layers, ASPP and the head.
// Stride and dilation are those of the 3x3 conv in each layer's last block.
func summarize(m *model.DeepLabv3[*cpu.CPUBackend]) []summaryRow {
	backbone := m.Backbone()
	layers := 0
	var rows []summaryRow
	for i := 1; i <= 4; i++ {
		layer := backbone.Layer(i)
		first := layer.Module(0).(*model.Bottleneck[*cpu.CPUBackend])
		last := layer.Module(layer.Len() - 1).(*model.Bottleneck[*cpu.CPUBackend])
		n := nn.NumParameters[*cpu.CPUBackend](layer)
		layers += n
		rows = append(rows, summaryRow{
			name:     fmt.Sprintf("%s.layer%d", model.BackbonePrefix, i),
			blocks:   layer.Len(),
			stride:   first.Stride(),
			dilation: last.Dilation(),
			params:   n,
		})
	}

	stem := summaryRow{
		name:   model.BackbonePrefix + ".stem",
		params: nn.NumParameters[*cpu.CPUBackend](backbone) - layers,
	}
	rows = append([]summaryRow{stem}, rows...)
	rows = append(rows,
		summaryRow{name: model.ASPPPrefix, params: nn.NumParameters[*cpu.CPUBackend](m.ASPP())},
		summaryRow{name: "head", params: nn.NumParameters[*cpu.CPUBackend](m.Head())},
	)
	return rows
}
