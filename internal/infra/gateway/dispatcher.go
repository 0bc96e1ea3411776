package gateway

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/client"
	"github.com/totegamma/eventchain/internal/domain"
)

// Dispatcher queues chains at the dispatcher service, which delivers them to other nodes.
type Dispatcher struct {
	client *client.Client
	url    string
}

func NewDispatcher(cl *client.Client, endpoint string) *Dispatcher {
	return &Dispatcher{
		client: cl,
		url:    endpoint,
	}
}

// Info returns the dispatcher node info. The result is cached.
func (d *Dispatcher) Info(ctx context.Context) (eventchain.DispatcherInfo, error) {
	var info eventchain.DispatcherInfo
	err := d.client.GetCached(ctx, d.url+"/", &info)
	if err != nil {
		return eventchain.DispatcherInfo{}, errors.Wrap(err, "failed to get dispatcher info")
	}
	return info, nil
}

// Node returns the node id of the dispatcher.
func (d *Dispatcher) Node(ctx context.Context) (string, error) {
	info, err := d.Info(ctx)
	if err != nil {
		return "", err
	}
	return info.Node, nil
}

// Dispatch queues chain for delivery to nodes. Without nodes the dispatcher decides the recipients.
func (d *Dispatcher) Dispatch(ctx context.Context, chain *domain.EventChain, nodes []string) error {
	ctx, span := tracer.Start(ctx, "Gateway.Dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("chain", chain.ID), attribute.StringSlice("nodes", nodes))

	target := d.url + "/queue"
	if len(nodes) > 0 {
		target += "?" + url.Values{"to": nodes}.Encode()
	}

	err := d.client.PostJSON(ctx, target, chain, nil)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to queue chain")
	}
	return nil
}
