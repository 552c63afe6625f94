package marketplace

import (
	"fmt"
	"time"
)

// Registry maps (marketplace, action) pairs to handler implementations.
// Built once at startup and read-only afterwards, so lookups need no
// locking.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func registryKey(marketplace, action string) string {
	return marketplace + ":" + action
}

// Register wires a handler for a pair. Registering the same pair twice is
// a configuration error and must abort startup.
func (r *Registry) Register(marketplace, action string, h Handler) error {
	key := registryKey(marketplace, action)
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("handler already registered for %s", key)
	}
	r.handlers[key] = h
	return nil
}

// Lookup resolves the handler for a pair.
func (r *Registry) Lookup(marketplace, action string) (Handler, bool) {
	h, ok := r.handlers[registryKey(marketplace, action)]
	return h, ok
}

// Actions returns the action codes registered for a marketplace.
func (r *Registry) Actions(marketplace string) []string {
	prefix := marketplace + ":"
	var actions []string
	for key := range r.handlers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			actions = append(actions, key[len(prefix):])
		}
	}
	return actions
}

// BuildRegistry wires every supported (marketplace, action) pair. The
// relay transport serves Vinted, the OAuth2 transports serve eBay and
// Etsy.
func BuildRegistry(relay RelayCaller, relayTimeout time.Duration, ebayAPI, etsyAPI HTTPCaller) (*Registry, error) {
	r := NewRegistry()

	vinted := NewVintedClient(relay, relayTimeout)
	ebay := NewEbayClient(ebayAPI)
	etsy := NewEtsyClient(etsyAPI)

	regs := []struct {
		marketplace string
		action      string
		handler     Handler
	}{
		{Vinted, ActionPublish, &VintedPublishHandler{client: vinted}},
		{Vinted, ActionUpdate, &VintedUpdateHandler{client: vinted}},
		{Vinted, ActionDelete, &VintedDeleteHandler{client: vinted}},
		{Vinted, ActionSync, &VintedSyncHandler{client: vinted}},
		{Vinted, ActionSyncOrders, &VintedSyncOrdersHandler{client: vinted}},
		{Vinted, ActionMessage, &VintedMessageHandler{client: vinted}},
		{Vinted, ActionLink, &VintedLinkHandler{client: vinted}},

		{Ebay, ActionPublish, &EbayPublishHandler{client: ebay}},
		{Ebay, ActionUpdate, &EbayUpdateHandler{client: ebay}},
		{Ebay, ActionDelete, &EbayDeleteHandler{client: ebay}},
		{Ebay, ActionSync, &EbaySyncHandler{client: ebay}},
		{Ebay, ActionSyncOrders, &EbaySyncOrdersHandler{client: ebay}},

		{Etsy, ActionPublish, &EtsyPublishHandler{client: etsy}},
		{Etsy, ActionUpdate, &EtsyUpdateHandler{client: etsy}},
		{Etsy, ActionDelete, &EtsyDeleteHandler{client: etsy}},
		{Etsy, ActionSync, &EtsySyncHandler{client: etsy}},
		{Etsy, ActionSyncOrders, &EtsySyncOrdersHandler{client: etsy}},
	}

	for _, reg := range regs {
		if err := r.Register(reg.marketplace, reg.action, reg.handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}
