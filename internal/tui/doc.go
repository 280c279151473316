// Package tui provides the terminal view for the run command.
//
// The view is read-only. It shows the task, a progress bar driven by the
// team's progress events and a scrolling transcript of agent messages. Pressing
// 'q' or Ctrl+C stops a run that is still going and exits.
//
// Usage:
//
//	emitter := team.NewEmitter(64)
//	ctx, cancel := context.WithCancel(ctx)
//	go func() {
//	    res, err := t.Run(ctx, task,
//	        team.WithProgress(emitter), team.WithMessageHandler(emitter.Message))
//	    emitter.Done(res, err)
//	}()
//	app, err := tui.Run(ctx, task, emitter.Events(), cancel)
package tui
