package sqlinline

// Provider API keys live in integration_tokens keyed by provider name. The
// only provider stored today is removebg, whose key the segmentation chain
// reads when REMOVEBG_API_KEY is unset.

// QSelectIntegrationToken returns the key for one provider.
const QSelectIntegrationToken = `--sql 3c1e7b52-5f0d-4a8e-9d61-2b7f04c9a1d3
select token
from integration_tokens
where provider = lower($1::text);
`

// QUpsertIntegrationToken stores a rotated key. Properties are merged so
// earlier annotations such as set_by survive a rotation.
const QUpsertIntegrationToken = `--sql e84a9f10-6c2b-4d37-b5a8-71f3c0d29e64
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), lower($1::text), $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
