// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// opfusion_inspect lowers one of the sample programs and reports the fusion clusters, the tiling plan and the
// lowered functions.
//
// Example:
//
//	opfusion_inspect -program=layernorm -target=nvgpu -clusters -tiles -ir
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/opfusion/pkg/fusion/pattern"
	"github.com/gomlx/opfusion/pkg/fusion/patterngraph"
	"github.com/gomlx/opfusion/pkg/ir"
	"github.com/gomlx/opfusion/pkg/lowering"
	"github.com/gomlx/opfusion/pkg/strategy"
	"github.com/gomlx/opfusion/pkg/target"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagProgram = flag.String("program", "softmax",
		fmt.Sprintf("Sample program to lower, one of %s.", strings.Join(programNames(), ", ")))
	flagTarget  = flag.String("target", "host", "Target to lower for: \"host\" or \"nvgpu\".")
	flagDynamic = flag.Bool("dynamic", false, "Use a symbolic first axis (\"S0\") and lower into shape buckets.")
	flagFusion  = flag.Bool("fusion", true, "Fuse the loop nests of the operations of the group.")
	flagPass    = flag.Bool("pass", true, "Apply the optimization passes to the lowered functions.")

	flagClusters = flag.Bool("clusters", false, "List the fusion clusters of the group.")
	flagTiles    = flag.Bool("tiles", false, "Display the tiling plan of the group (static shapes only).")
	flagIR       = flag.Bool("ir", false, "Print the lowered functions.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'opfusion_inspect -help'.", flag.Args())
		os.Exit(1)
	}
	tgt := must.M1(target.Parse(*flagTarget))
	group := must.M1(buildProgram(*flagProgram, *flagDynamic))
	names := pattern.NewNameGenerator()

	fmt.Println(titleStyle.Render(fmt.Sprintf("Group %s", group.FuncName)))
	fmt.Println(groupTable(group, tgt).Render())

	if *flagClusters {
		clusters := must.M1(patterngraph.NewClusterer(pattern.NewNameGenerator()).Cluster(group.Ops, nil))
		fmt.Println(titleStyle.Render("Clusters"))
		fmt.Println(clustersTable(clusters).Render())
	}

	if *flagTiles {
		fmt.Println(titleStyle.Render("Tiling"))
		info, err := lowering.GetGroupTileInfo(group)
		if err != nil {
			klog.Errorf("No tiling plan: %+v", err)
		} else {
			fmt.Println(tileTable(info).Render())
		}
	}

	lowerer := lowering.New(tgt, strategy.Default()).WithFusion(*flagFusion).WithNameGenerator(names)
	opts := lowering.DefaultOptions()
	opts.Pass = *flagPass
	var funcs []predicatedFunc
	if *flagDynamic {
		result := must.M1(lowerer.BucketLower(group, opts))
		for _, fn := range result.Funcs {
			funcs = append(funcs, predicatedFunc{predicate: fn.Predicate, fn: fn.Func})
		}
		if result.InferShapeFunc != nil {
			funcs = append(funcs, predicatedFunc{fn: result.InferShapeFunc})
		}
	} else {
		for _, fn := range must.M1(lowerer.Lower(group, opts)) {
			funcs = append(funcs, predicatedFunc{fn: fn})
		}
	}
	fmt.Println(titleStyle.Render("Lowered functions"))
	fmt.Println(funcsTable(funcs).Render())
	if *flagIR {
		for _, f := range funcs {
			fmt.Println()
			if f.predicate != nil {
				fmt.Printf("// when %s\n", ir.Str(f.predicate))
			}
			fmt.Println(f.fn)
		}
	}
}
